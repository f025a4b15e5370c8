package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoon511/netplay-badminton-board-yoon/internal/roster"
	"github.com/yoon511/netplay-badminton-board-yoon/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func uniquePath(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

func TestStore_LoadMissingIsNil(t *testing.T) {
	s := newTestStore(t)
	rec, err := s.Load(context.Background(), uniquePath(t))
	require.NoError(t, err)
	assert.Nil(t, rec.Snapshot)
	assert.Zero(t, rec.Revision)
}

func TestStore_PublishOverwritesWholeSnapshot(t *testing.T) {
	s := newTestStore(t)
	path := uniquePath(t)
	ctx := context.Background()

	first := roster.DefaultSnapshot(3)
	first.Participants = append(first.Participants, roster.Participant{ID: 1, Name: "a", Group: roster.GroupA, Sex: roster.SexMale})
	rev, err := s.Publish(ctx, path, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	second := roster.DefaultSnapshot(2)
	rev, err = s.Publish(ctx, path, second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	got, err := s.Load(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, got.Snapshot)
	assert.Empty(t, got.Snapshot.Participants)
	assert.Len(t, got.Snapshot.Courts, 2)
	assert.Equal(t, int64(2), got.Revision)
}

func TestStore_SubscribeSeesCurrentThenChanges(t *testing.T) {
	s := newTestStore(t)
	path := uniquePath(t)
	ctx := context.Background()

	ch := make(chan store.Record, 4)
	sub, err := s.Subscribe(ctx, path, func(rec store.Record) { ch <- rec })
	require.NoError(t, err)
	defer sub.Close()

	select {
	case rec := <-ch:
		assert.Nil(t, rec.Snapshot)
	case <-time.After(time.Second):
		t.Fatal("no initial delivery")
	}

	_, err = s.Publish(ctx, path, roster.DefaultSnapshot(5))
	require.NoError(t, err)
	select {
	case rec := <-ch:
		require.NotNil(t, rec.Snapshot)
		assert.Len(t, rec.Snapshot.Courts, 5)
		assert.Equal(t, int64(1), rec.Revision)
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}
