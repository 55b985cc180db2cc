package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/infrastructure/messaging"
	"thinknet-backend/internal/infrastructure/persistence/memory"
)

type fakeMember struct {
	sessionID string
	userID    string
	username  string

	mu     sync.Mutex
	events []Event
}

func newMember(sessionID, userID string) *fakeMember {
	return &fakeMember{sessionID: sessionID, userID: userID, username: userID + "-name"}
}

func (f *fakeMember) SessionID() string { return f.sessionID }
func (f *fakeMember) UserID() string    { return f.userID }
func (f *fakeMember) Username() string  { return f.username }

func (f *fakeMember) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return true
}

func (f *fakeMember) received(name string) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeMember) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Name
	}
	return out
}

func (f *fakeMember) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

// recordingStore counts writes and can fail or block them.
type recordingStore struct {
	*memory.Store

	mu       sync.Mutex
	writes   []mindmap.Snapshot
	failWith error
	gate     chan struct{} // when set, Replace waits for a value
	entered  chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memory.NewStore()}
}

func (s *recordingStore) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.writes = append(s.writes, snap)
	return s.Store.Replace(ctx, id, snap)
}

func (s *recordingStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *recordingStore) lastWrite() mindmap.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[len(s.writes)-1]
}

func (s *recordingStore) setFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []messaging.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...messaging.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// seedDocument stores m1 owned by alice, with bob as writer and carol as reader.
func seedDocument(t *testing.T, store *recordingStore) {
	t.Helper()
	doc := mindmap.NewDocument("m1", "Launch", "alice", testNow)
	doc.Collaborators = []mindmap.Collaborator{
		{UserID: "bob", Permission: mindmap.PermissionWrite},
		{UserID: "carol", Permission: mindmap.PermissionRead},
	}
	require.NoError(t, store.Put(context.Background(), doc))
}

func newTestEngine(t *testing.T, quiet time.Duration) (*Engine, *recordingStore) {
	t.Helper()
	store := newRecordingStore()
	seedDocument(t, store)
	engine := NewEngine(store, nil, SyncConfig{QuietPeriod: quiet, RetryDelay: quiet, FlushTimeout: time.Second}, zap.NewNop(), nil, nil)
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	return engine, store
}

func join(t *testing.T, e *Engine, m *fakeMember) {
	t.Helper()
	require.NoError(t, e.Relay.Handle(context.Background(), m, EventJoinMindmap, []byte(`{"mindmapId":"m1"}`)))
}
