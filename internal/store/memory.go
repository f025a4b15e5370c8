package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
)

// Memory is an in-process Store. Values are kept encoded so that no caller
// ever aliases another caller's slices.
type Memory struct {
	mu     sync.Mutex
	data   map[string]memoryValue
	subs   map[string]map[*memorySub]struct{}
	closed bool
	log    *zap.Logger
}

func NewMemory(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		data: make(map[string]memoryValue),
		subs: make(map[string]map[*memorySub]struct{}),
		log:  log.Named("store"),
	}
}

type memoryValue struct {
	raw      []byte
	revision int64
}

func (m *Memory) Publish(ctx context.Context, path string, snap roster.Snapshot) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	v := memoryValue{raw: raw, revision: m.data[path].revision + 1}
	m.data[path] = v
	for sub := range m.subs[path] {
		sub.offer(v)
	}
	return v.revision, nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, onChange func(Record)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		owner:    m,
		path:     path,
		onChange: onChange,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		ctx:      subCtx,
		cancel:   cancel,
	}
	if m.subs[path] == nil {
		m.subs[path] = make(map[*memorySub]struct{})
	}
	m.subs[path][sub] = struct{}{}

	// The current value is always delivered first, even if it is nothing.
	sub.pending, sub.hasPending = m.data[path], true
	sub.wake <- struct{}{}

	go sub.run()
	return sub, nil
}

// Close stops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	var subs []*memorySub
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (m *Memory) drop(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[sub.path], sub)
	if len(m.subs[sub.path]) == 0 {
		delete(m.subs, sub.path)
	}
}

type memorySub struct {
	owner    *Memory
	path     string
	onChange func(Record)

	mu         sync.Mutex
	pending    memoryValue
	hasPending bool
	wake       chan struct{}

	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// offer replaces any undelivered value: a slow subscriber only ever sees
// the latest snapshot.
func (s *memorySub) offer(v memoryValue) {
	s.mu.Lock()
	s.pending, s.hasPending = v, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	defer close(s.done)
	defer s.owner.drop(s)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		s.mu.Lock()
		v, ok := s.pending, s.hasPending
		s.pending, s.hasPending = memoryValue{}, false
		s.mu.Unlock()
		if !ok {
			continue
		}

		if v.raw == nil {
			s.onChange(Record{})
			continue
		}
		var snap roster.Snapshot
		if err := json.Unmarshal(v.raw, &snap); err != nil {
			s.owner.log.Error("decode snapshot", zap.String("path", s.path), zap.Error(err))
			continue
		}
		s.onChange(Record{Snapshot: &snap, Revision: v.revision})
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}
