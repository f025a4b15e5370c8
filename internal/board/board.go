package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
)

var ErrSyncFailed = errors.New("change applied here but could not be shared with other screens")

type Msg interface{ isBoardMsg() }

// FromClient applies a command on behalf of a joined viewer. An empty or
// unknown ClientID acts as an anonymous, non-admin caller. Reply, when set,
// receives the outcome and must be buffered.
type FromClient struct {
	ClientID string
	Cmd      roster.Command
	Reply    chan error
}

func (FromClient) isBoardMsg() {}

type Join struct {
	ClientID string
	Admin    bool
	Outbox   chan Update // where this viewer receives updates
}

func (Join) isBoardMsg() {}

type Leave struct{ ClientID string }

func (Leave) isBoardMsg() {}

// RemoteUpdate carries a record read back from the store. A nil snapshot
// means the store is empty.
type RemoteUpdate struct {
	Record store.Record
}

func (RemoteUpdate) isBoardMsg() {}

type Shutdown struct{}

func (Shutdown) isBoardMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isBoardMsg() {}

type Update interface{ isUpdate() }

// Snapshot is the full board as one viewer sees it.
type Snapshot struct {
	Version  int
	State    roster.Snapshot
	Selected []int64
	Admin    bool
	Clocks   map[string]string
}

func (Snapshot) isUpdate() {}

// Tick refreshes the court clocks once a second. It never carries state.
type Tick struct {
	Now    time.Time
	Clocks map[string]string
}

func (Tick) isUpdate() {}

// Notice is an advisory for one viewer only.
type Notice struct {
	Err error
}

func (Notice) isUpdate() {}

type View struct {
	Version    int
	NumClients int
	State      roster.Snapshot
	Selections map[string][]int64
}

type Config struct {
	Path           string
	Rules          roster.Rules
	TickInterval   time.Duration // zero disables the clock
	PublishTimeout time.Duration
	Now            func() time.Time

	// IdleTimeout stops a board that has had no viewers for this long.
	// Zero keeps it running. OnIdle is called from the board goroutine
	// after an idle stop and must not block.
	IdleTimeout time.Duration
	OnIdle      func(*Board)
}

type client struct {
	outbox    chan Update
	admin     bool
	selection []int64
}

// Board owns one roster. All state is touched only by the loop goroutine.
type Board struct {
	inbox   chan Msg
	path    string
	rules   roster.Rules
	snap    roster.Snapshot
	version int
	rev     int64 // newest store revision seen or written
	clients map[string]*client

	store   store.Store
	sub     store.Subscription
	timeout time.Duration
	tick    time.Duration
	now     func() time.Time
	log     *zap.Logger

	idleAfter time.Duration
	idle      *time.Timer
	onIdle    func(*Board)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBoard(parent context.Context, st store.Store, cfg Config, log *zap.Logger) (*Board, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)

	b := &Board{
		inbox:   make(chan Msg, 64), // Small buffer
		path:    cfg.Path,
		rules:   cfg.Rules,
		snap:    roster.DefaultSnapshot(cfg.Rules.Courts),
		clients: make(map[string]*client),
		store:   st,
		timeout: cfg.PublishTimeout,
		tick:    cfg.TickInterval,
		now:     cfg.Now,
		log:     log.Named("board").With(zap.String("path", cfg.Path)),

		idleAfter: cfg.IdleTimeout,
		onIdle:    cfg.OnIdle,

		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	sub, err := st.Subscribe(ctx, cfg.Path, func(rec store.Record) {
		select {
		case b.inbox <- RemoteUpdate{Record: rec}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %q: %w", cfg.Path, err)
	}
	b.sub = sub

	go b.loop()
	return b, nil
}

func (b *Board) loop() {
	defer close(b.done)

	var tick <-chan time.Time
	if b.tick > 0 {
		ticker := time.NewTicker(b.tick)
		defer ticker.Stop()
		tick = ticker.C
	}
	b.armIdle()

	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case <-b.idleC():
			if len(b.clients) > 0 {
				continue
			}
			b.log.Info("no viewers, stopping board", zap.Duration("idle", b.idleAfter))
			b.shutdown()
			if b.onIdle != nil {
				b.onIdle(b)
			}
			return

		case <-tick:
			now := b.now()
			b.broadcastTick(Tick{Now: now, Clocks: roster.Clocks(now, b.snap.Courts)})

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Join:
				// Register viewer + send current snapshot immediately
				if old := b.clients[msg.ClientID]; old != nil && old.outbox != msg.Outbox {
					close(old.outbox)
				}
				c := &client{outbox: msg.Outbox, admin: msg.Admin}
				b.clients[msg.ClientID] = c
				b.disarmIdle()
				b.send(msg.ClientID, c, b.snapshotFor(c))

			case Leave:
				if c := b.clients[msg.ClientID]; c != nil {
					close(c.outbox) // ends the viewer's writer
					delete(b.clients, msg.ClientID)
				}
				b.armIdle()

			case FromClient:
				err := b.apply(msg)
				if msg.Reply != nil {
					msg.Reply <- err
				}

			case RemoteUpdate:
				b.replace(msg.Record)

			case GetState:
				// reflect internal state without data races
				view := View{
					Version:    b.version,
					NumClients: len(b.clients),
					State:      b.snap.Clone(),
					Selections: make(map[string][]int64, len(b.clients)),
				}
				for id, c := range b.clients {
					view.Selections[id] = append([]int64(nil), c.selection...)
				}
				msg.Reply <- view

			case Shutdown:
				b.shutdown()
				return
			}
		}
	}
}

func (b *Board) apply(msg FromClient) error {
	c := b.clients[msg.ClientID]
	cmd := msg.Cmd
	cmd.Admin = c != nil && c.admin
	cmd.Now = b.now().UTC()

	state := roster.State{Snapshot: b.snap, Rules: b.rules}
	if c != nil {
		state.Selection = c.selection
	}

	events, next, err := roster.Apply(state, cmd)
	if err != nil {
		b.notify(msg.ClientID, c, err)
		return err
	}
	if len(events) == 0 {
		return nil
	}
	if c != nil {
		c.selection = next.Selection
	}

	if !publishes(events) {
		b.send(msg.ClientID, c, b.snapshotFor(c))
		return nil
	}

	b.snap = next.Snapshot
	b.version++
	b.pruneSelections()
	var syncErr error
	if err := b.publish(); err != nil {
		b.log.Error("publish snapshot", zap.Int("version", b.version), zap.Error(err))
		syncErr = fmt.Errorf("%w: %v", ErrSyncFailed, err)
		b.notify(msg.ClientID, c, syncErr)
	}
	b.broadcast()
	return syncErr
}

func (b *Board) publish() error {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	rev, err := b.store.Publish(ctx, b.path, b.snap)
	if err != nil {
		return err
	}
	if rev > b.rev {
		b.rev = rev
	}
	return nil
}

// replace adopts a snapshot from the store wholesale. Records at or below
// the newest revision we know of are our own echoes or stale reads.
func (b *Board) replace(rec store.Record) {
	if rec.Revision != 0 && rec.Revision <= b.rev {
		return
	}
	if rec.Revision > b.rev {
		b.rev = rec.Revision
	}
	next := roster.DefaultSnapshot(b.rules.Courts)
	if rec.Snapshot != nil {
		next = rec.Snapshot.Clone()
	}
	if sameSnapshot(b.snap, next) {
		return
	}
	b.snap = next
	b.version++
	b.pruneSelections()
	b.broadcast()
}

// pruneSelections keeps every viewer's selection pointing at participants
// that still exist and are not already queued.
func (b *Board) pruneSelections() {
	for _, c := range b.clients {
		c.selection = b.snap.PruneSelection(c.selection)
	}
}

func (b *Board) snapshotFor(c *client) Snapshot {
	return Snapshot{
		Version:  b.version,
		State:    b.snap,
		Selected: append([]int64(nil), c.selection...),
		Admin:    c.admin,
		Clocks:   roster.Clocks(b.now(), b.snap.Courts),
	}
}

func (b *Board) notify(id string, c *client, err error) {
	if c == nil {
		return
	}
	b.send(id, c, Notice{Err: err})
}

func (b *Board) broadcast() {
	for id, c := range b.clients {
		b.send(id, c, b.snapshotFor(c))
	}
}

func (b *Board) broadcastTick(t Tick) {
	for id, c := range b.clients {
		b.send(id, c, t)
	}
}

func (b *Board) send(id string, c *client, u Update) {
	if c == nil {
		return
	}
	select {
	case c.outbox <- u:
		//ok
	default:
		// Viewer is slow/full - drop them.
		close(c.outbox)
		delete(b.clients, id)
		b.armIdle()
	}
}

// armIdle starts the idle countdown once the last viewer is gone.
func (b *Board) armIdle() {
	if b.idleAfter <= 0 || len(b.clients) > 0 {
		return
	}
	if b.idle == nil {
		b.idle = time.NewTimer(b.idleAfter)
		return
	}
	b.idle.Reset(b.idleAfter)
}

func (b *Board) disarmIdle() {
	if b.idle != nil {
		b.idle.Stop()
	}
}

func (b *Board) idleC() <-chan time.Time {
	if b.idle == nil {
		return nil
	}
	return b.idle.C
}

func (b *Board) shutdown() {
	b.cancel()
	b.disarmIdle()
	if err := b.sub.Close(); err != nil {
		b.log.Warn("close subscription", zap.Error(err))
	}
	for id, c := range b.clients {
		close(c.outbox) // Tell viewer no more updates
		delete(b.clients, id)
	}
}

// Inbox exposes the inbox so tests or the ws layer can send messages.
func (b *Board) Inbox() chan<- Msg { return b.inbox }

// Send delivers m unless the board has been torn down.
func (b *Board) Send(m Msg) bool {
	select {
	case b.inbox <- m:
		return true
	case <-b.done:
		return false
	}
}

// Done is closed once the board has released its subscription and viewers.
func (b *Board) Done() <-chan struct{} { return b.done }

func (b *Board) Path() string { return b.path }

// Close tears the board down and waits for it.
func (b *Board) Close() error {
	b.cancel()
	<-b.done
	return nil
}

// ErrorCode is the stable code viewers use to tell advisories apart.
func ErrorCode(err error) string {
	var adv *roster.AdvisoryError
	switch {
	case errors.As(err, &adv):
		return adv.Code
	case errors.Is(err, ErrSyncFailed):
		return "sync_failed"
	default:
		return "error"
	}
}

func publishes(events []roster.Event) bool {
	for _, e := range events {
		if e.Published() {
			return true
		}
	}
	return false
}

func sameSnapshot(a, b roster.Snapshot) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
