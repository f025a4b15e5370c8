// Package postgres is a Store backed by a single postgres table. Publishes
// upsert the whole snapshot and NOTIFY listeners; subscribers LISTEN on a
// dedicated connection and reload the row when their path changes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
)

const channel = "board_snapshots"

const reconnectDelay = 2 * time.Second

type snapshotRow struct {
	Path      string    `gorm:"primaryKey"`
	Payload   []byte    `gorm:"type:jsonb;not null"`
	Revision  int64     `gorm:"not null;default:1"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (snapshotRow) TableName() string { return "board_snapshots" }

type Store struct {
	db  *gorm.DB
	dsn string
	log *zap.Logger

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

var _ store.Store = (*Store)(nil)

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&snapshotRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:   db,
		dsn:  dsn,
		log:  log.Named("store"),
		subs: make(map[*subscription]struct{}),
	}, nil
}

func (s *Store) Publish(ctx context.Context, path string, snap roster.Snapshot) (int64, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	row := snapshotRow{Path: path, Payload: raw, Revision: 1, UpdatedAt: time.Now().UTC()}

	// NOTIFY is only delivered on commit, so listeners never see a half write.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: "path"}},
				DoUpdates: clause.Assignments(map[string]any{
					"payload":    raw,
					"updated_at": row.UpdatedAt,
					"revision":   gorm.Expr("board_snapshots.revision + 1"),
				}),
			},
			clause.Returning{Columns: []clause.Column{{Name: "revision"}}},
		).Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		if err := tx.Exec("SELECT pg_notify(?, ?)", channel, path).Error; err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return row.Revision, nil
}

// Load returns the stored record for path. The record is empty if the path
// has never been published.
func (s *Store) Load(ctx context.Context, path string) (store.Record, error) {
	var row snapshotRow
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.Record{}, nil
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("load snapshot: %w", err)
	}
	var snap roster.Snapshot
	if err := json.Unmarshal(row.Payload, &snap); err != nil {
		return store.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return store.Record{Snapshot: &snap, Revision: row.Revision}, nil
}

func (s *Store) Subscribe(ctx context.Context, path string, onChange func(store.Record)) (store.Subscription, error) {
	conn, err := s.listen(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.Load(ctx, path)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		owner:    s,
		path:     path,
		onChange: onChange,
		ctx:      subCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	onChange(rec)
	go sub.run(conn)
	return sub, nil
}

func (s *Store) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}
	return conn, nil
}

// Close stops all subscriptions and closes the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	var err error
	for _, sub := range subs {
		err = multierr.Append(err, sub.Close())
	}
	sqlDB, dbErr := s.db.DB()
	if dbErr != nil {
		return multierr.Append(err, dbErr)
	}
	return multierr.Append(err, sqlDB.Close())
}

type subscription struct {
	owner    *Store
	path     string
	onChange func(store.Record)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (sub *subscription) run(conn *pgx.Conn) {
	defer close(sub.done)
	log := sub.owner.log.With(zap.String("path", sub.path))
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			select {
			case <-sub.ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			c, err := sub.owner.listen(sub.ctx)
			if err != nil {
				log.Warn("reconnect listener", zap.Error(err))
				continue
			}
			conn = c
			// Anything published while disconnected was missed.
			sub.reload(log)
		}

		n, err := conn.WaitForNotification(sub.ctx)
		if sub.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("listener lost", zap.Error(err))
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}
		if n.Payload != sub.path {
			continue
		}
		sub.reload(log)
	}
}

func (sub *subscription) reload(log *zap.Logger) {
	rec, err := sub.owner.Load(sub.ctx, sub.path)
	if err != nil {
		log.Error("reload snapshot", zap.Error(err))
		return
	}
	sub.onChange(rec)
}

func (sub *subscription) Close() error {
	sub.once.Do(func() {
		sub.cancel()
		<-sub.done
		sub.owner.mu.Lock()
		delete(sub.owner.subs, sub)
		sub.owner.mu.Unlock()
	})
	return nil
}
