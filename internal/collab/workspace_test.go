package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
)

func TestWorkspace_AcquireRelease(t *testing.T) {
	store := newRecordingStore()
	seedDocument(t, store)
	ws := NewWorkspace(store, nil)
	ctx := context.Background()

	require.NoError(t, ws.Acquire(ctx, "m1"))
	require.NoError(t, ws.Acquire(ctx, "m1"))
	ws.Release("m1")
	assert.Equal(t, []string{"m1"}, ws.IDs())
	ws.Release("m1")
	assert.Empty(t, ws.IDs())
	ws.Release("m1")

	err := ws.Acquire(ctx, "missing")
	assert.True(t, errors.IsNotFound(err))
	err = ws.Mutate("m1", func(*mindmap.Document) error { return nil })
	assert.True(t, errors.IsNotFound(err))
}

func TestWorkspace_ConcurrentAcquireSharesOneCopy(t *testing.T) {
	store := newRecordingStore()
	seedDocument(t, store)
	ws := NewWorkspace(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ws.Acquire(context.Background(), "m1"))
		}()
	}
	wg.Wait()

	require.NoError(t, ws.Mutate("m1", func(doc *mindmap.Document) error {
		doc.Title = "changed"
		return nil
	}))
	doc, ok := ws.Document("m1")
	require.True(t, ok)
	assert.Equal(t, "changed", doc.Title)

	for i := 0; i < 9; i++ {
		ws.Release("m1")
	}
	assert.Len(t, ws.IDs(), 1)
}

func TestWorkspace_LiveCopyIsIsolatedFromStorage(t *testing.T) {
	store := newRecordingStore()
	seedDocument(t, store)
	ws := NewWorkspace(store, nil)
	require.NoError(t, ws.Acquire(context.Background(), "m1"))

	require.NoError(t, ws.Mutate("m1", func(doc *mindmap.Document) error {
		return doc.AddNode(mindmap.Node{ID: "n1", Text: "live", Level: 1}, nil, "bob", time.Now())
	}))

	stored, err := store.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.False(t, stored.HasNode("n1"))

	snap, ok := ws.Snapshot("m1")
	require.True(t, ok)
	assert.Len(t, snap.Nodes, 2)
}

func TestWorkspace_RunAccessRefreshStopsWithContext(t *testing.T) {
	store := newRecordingStore()
	seedDocument(t, store)
	ws := NewWorkspace(store, nil)
	require.NoError(t, ws.Acquire(context.Background(), "m1"))
	require.NoError(t, store.UpdateAccess(context.Background(), "m1", nil, true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ws.RunAccessRefresh(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		doc, _ := ws.Document("m1")
		return doc.IsPublic && len(doc.Collaborators) == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}

// slowFetchStore holds every Fetch until release is closed or its ctx ends.
type slowFetchStore struct {
	*recordingStore
	started chan struct{}
	release chan struct{}
}

func (s *slowFetchStore) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return s.recordingStore.Fetch(ctx, id)
}

func TestWorkspace_SharedLoadOutlivesFirstCaller(t *testing.T) {
	store := &slowFetchStore{
		recordingStore: newRecordingStore(),
		started:        make(chan struct{}, 4),
		release:        make(chan struct{}),
	}
	seedDocument(t, store.recordingStore)
	ws := NewWorkspace(store, nil)

	aliceCtx, disconnectAlice := context.WithCancel(context.Background())
	aliceErr := make(chan error, 1)
	go func() { aliceErr <- ws.Acquire(aliceCtx, "m1") }()
	<-store.started

	bobErr := make(chan error, 1)
	go func() { bobErr <- ws.Acquire(context.Background(), "m1") }()
	time.Sleep(20 * time.Millisecond)

	disconnectAlice()
	assert.ErrorIs(t, <-aliceErr, context.Canceled)

	close(store.release)
	require.NoError(t, <-bobErr)
	assert.Equal(t, []string{"m1"}, ws.IDs())

	ws.Release("m1")
	assert.Empty(t, ws.IDs(), "the disconnected caller holds no reference")
}
