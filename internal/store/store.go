// Package store holds the shared snapshot store that boards mirror their
// state to. The store is a dumb whole-snapshot mirror: publishes overwrite,
// the last writer wins, and subscribers see full snapshots.
package store

import (
	"context"
	"errors"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
)

var ErrClosed = errors.New("store closed")

// Record is one stored value. Revision grows by one on every publish to a
// path; zero means the store does not track revisions for this value.
// A nil Snapshot means the path holds no data yet.
type Record struct {
	Snapshot *roster.Snapshot
	Revision int64
}

// Store is the synchronization boundary between a board and other boards
// showing the same path.
type Store interface {
	Subscribe(ctx context.Context, path string, onChange func(Record)) (Subscription, error)
	Publish(ctx context.Context, path string, snap roster.Snapshot) (int64, error)
}

type Subscription interface {
	Close() error
}
