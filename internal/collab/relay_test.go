package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
	"thinknet-backend/internal/infrastructure/observability"
)

func send(e *Engine, m *fakeMember, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return e.Relay.Handle(context.Background(), m, event, data)
}

func TestRelay_JoinSendsPresenceThenState(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")

	join(t, e, alice)
	require.NoError(t, e.Relay.Handle(context.Background(), bob, EventJoinMindmap, []byte(`"m1"`)))

	assert.Equal(t, []string{EventActiveUsers, EventMindmapState}, bob.names())
	assert.Equal(t, []Presence{{ID: "alice", Username: "alice-name"}}, bob.received(EventActiveUsers)[0].Data)
	state := bob.received(EventMindmapState)[0].Data.(MindmapState)
	assert.Equal(t, "m1", state.ID)
	assert.Equal(t, mindmap.PermissionWrite, state.Permission)
	require.Len(t, state.Nodes, 1)

	joined := alice.received(EventUserJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, Presence{ID: "bob", Username: "bob-name"}, joined[0].Data)
}

func TestRelay_JoinRejections(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)

	tests := []struct {
		name    string
		userID  string
		payload string
		check   func(error) bool
	}{
		{"missing document", "alice", `{"mindmapId":"nope"}`, errors.IsNotFound},
		{"no access", "mallory", `{"mindmapId":"m1"}`, errors.IsForbidden},
		{"blank id", "alice", `{"mindmapId":"  "}`, errors.IsValidation},
		{"malformed", "alice", `{"mindmapId":`, errors.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMember("s-"+tt.userID, tt.userID)
			err := e.Relay.Handle(context.Background(), m, EventJoinMindmap, []byte(tt.payload))
			assert.True(t, tt.check(err), "unexpected error %v", err)
			assert.Empty(t, m.names())
			_, inRoom := e.Registry.RoomOf(m.SessionID())
			assert.False(t, inRoom)
		})
	}
	assert.Empty(t, e.Workspace.IDs(), "rejected joins release the document")
}

func TestRelay_NodeUpdateRelaysToOthersOnly(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, bob, carol := newMember("s-alice", "alice"), newMember("s-bob", "bob"), newMember("s-carol", "carol")
	join(t, e, alice)
	join(t, e, bob)
	join(t, e, carol)

	updates := []map[string]any{
		{"x": 10.0, "y": 20.0},
		{"text": "Renamed"},
		{"color": "#ff0000", "level": 0.0},
	}
	for _, u := range updates {
		require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: u}))
	}

	assert.Empty(t, bob.received(EventNodeUpdated), "originator never gets its own event")
	for _, m := range []*fakeMember{alice, carol} {
		got := m.received(EventNodeUpdated)
		require.Len(t, got, len(updates))
		for i, ev := range got {
			payload := ev.Data.(NodeUpdated)
			assert.Equal(t, "root", payload.NodeID)
			assert.Equal(t, updates[i], payload.Updates)
			assert.Equal(t, "bob", payload.UpdatedBy)
		}
	}

	doc, ok := e.Workspace.Document("m1")
	require.True(t, ok)
	root, _ := doc.Node("root")
	assert.Equal(t, "Renamed", root.Text)
	assert.Equal(t, 10.0, root.X)
	assert.Equal(t, "#ff0000", root.Color)
	assert.Equal(t, StateDirty, e.Synchronizer.State("m1"))
}

func TestRelay_NodeUpdateUnknownNode(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	err := send(e, alice, EventNodeUpdate, NodeUpdateRequest{NodeID: "ghost", Updates: map[string]any{"text": "x"}})

	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, bob.received(EventNodeUpdated))
	assert.Equal(t, StateClean, e.Synchronizer.State("m1"))
	assert.Equal(t, 0, store.writeCount())
}

func TestRelay_WritesNeedWritePermission(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, carol := newMember("s-alice", "alice"), newMember("s-carol", "carol")
	join(t, e, alice)
	join(t, e, carol)

	tests := []struct {
		event   string
		payload any
	}{
		{EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"x": 1.0}}},
		{EventNodeAdd, NodeAddRequest{Node: mindmap.Node{ID: "n9", Text: "t", Level: 1}}},
		{EventNodeDelete, NodeDeleteRequest{NodeID: "root"}},
		{EventLinkAdd, mindmap.Link{Source: "root", Target: "root"}},
		{EventSaveMindmap, struct{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			err := send(e, carol, tt.event, tt.payload)
			assert.True(t, errors.IsForbidden(err), "unexpected error %v", err)
		})
	}
	assert.Len(t, alice.received(EventUserJoined), 1, "alice only saw carol join")
	assert.Equal(t, StateClean, e.Synchronizer.State("m1"))
}

func TestRelay_PermissionIsReadFromCurrentAccessList(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	bob := newMember("s-bob", "bob")
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"x": 1.0}}))

	require.NoError(t, store.UpdateAccess(context.Background(), "m1", []mindmap.Collaborator{
		{UserID: "bob", Permission: mindmap.PermissionRead},
	}, false))
	e.Workspace.RefreshAccess(context.Background())

	err := send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"x": 2.0}})
	assert.True(t, errors.IsForbidden(err))

	doc, _ := e.Workspace.Document("m1")
	root, _ := doc.Node("root")
	assert.Equal(t, 1.0, root.X, "live edits survive an access refresh")
}

func TestRelay_NodeAddReachesOthersBeforePersistence(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	node := mindmap.Node{ID: "n1", X: 120, Y: 40, Text: "New Idea", Level: 1, Color: "blue"}
	link := &mindmap.Link{Source: "root", Target: "n1"}
	require.NoError(t, send(e, alice, EventNodeAdd, NodeAddRequest{Node: node, Link: link}))

	got := bob.received(EventNodeAdded)
	require.Len(t, got, 1)
	payload := got[0].Data.(NodeAdded)
	assert.Equal(t, "n1", payload.Node.ID)
	assert.Equal(t, "New Idea", payload.Node.Text)
	assert.Equal(t, 120.0, payload.Node.X)
	assert.Equal(t, 1, payload.Node.Level)
	assert.Equal(t, "blue", payload.Node.Color)
	assert.Equal(t, link, payload.Link)
	assert.Equal(t, "alice", payload.AddedBy)
	assert.Equal(t, 0, store.writeCount())
	assert.Empty(t, alice.received(EventNodeAdded))
}

func TestRelay_NodeAddRecordsSenderAsCreator(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	node := mindmap.Node{ID: "n1", Text: "Borrowed name", Level: 1, CreatedBy: "alice"}
	require.NoError(t, send(e, bob, EventNodeAdd, NodeAddRequest{Node: node}))

	got := alice.received(EventNodeAdded)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Data.(NodeAdded).Node.CreatedBy)

	doc, ok := e.Workspace.Document("m1")
	require.True(t, ok)
	stored, ok := doc.Node("n1")
	require.True(t, ok)
	assert.Equal(t, "bob", stored.CreatedBy)
}

func TestRelay_NodeDeleteAndLinkAdd(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	require.NoError(t, send(e, alice, EventNodeAdd, NodeAddRequest{Node: mindmap.Node{ID: "n1", Text: "a", Level: 1}}))
	require.NoError(t, send(e, alice, EventLinkAdd, mindmap.Link{Source: "root", Target: "n1"}))
	require.NoError(t, send(e, alice, EventLinkAdd, mindmap.Link{Source: "root", Target: "n1"}))
	assert.Len(t, bob.received(EventLinkAdded), 2)

	doc, _ := e.Workspace.Document("m1")
	assert.Len(t, doc.Links, 2, "duplicate links are kept")

	err := send(e, alice, EventLinkAdd, mindmap.Link{Source: "root", Target: "ghost"})
	assert.True(t, errors.IsNotFound(err))

	err = send(e, alice, EventNodeDelete, NodeDeleteRequest{NodeID: "root"})
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, send(e, bob, EventNodeDelete, NodeDeleteRequest{NodeID: "n1"}))
	deleted := alice.received(EventNodeDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, NodeDeleted{NodeID: "n1", DeletedBy: "bob"}, deleted[0].Data)

	doc, _ = e.Workspace.Document("m1")
	assert.Empty(t, doc.Links)
}

func TestRelay_CursorMove(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, carol := newMember("s-alice", "alice"), newMember("s-carol", "carol")
	join(t, e, alice)
	join(t, e, carol)

	require.NoError(t, send(e, carol, EventCursorMove, CursorMoveRequest{X: 3, Y: 4}))
	got := alice.received(EventCursorMoved)
	require.Len(t, got, 1)
	assert.Equal(t, CursorMoved{UserID: "carol", Username: "carol-name", X: 3, Y: 4}, got[0].Data)
	assert.Empty(t, carol.received(EventCursorMoved))
	assert.Equal(t, StateClean, e.Synchronizer.State("m1"), "cursor moves are never persisted")

	outsider := newMember("s-x", "alice")
	err := send(e, outsider, EventCursorMove, CursorMoveRequest{})
	assert.True(t, errors.IsForbidden(err))
}

func TestRelay_CommentAdd(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, carol := newMember("s-alice", "alice"), newMember("s-carol", "carol")
	join(t, e, alice)
	join(t, e, carol)
	e.Relay.newID = func() (string, error) { return "c-fixed", nil }

	require.NoError(t, send(e, carol, EventCommentAdd, CommentAddRequest{NodeID: "root", Text: "  looks good  "}))

	for _, m := range []*fakeMember{alice, carol} {
		got := m.received(EventCommentAdded)
		require.Len(t, got, 1)
		payload := got[0].Data.(CommentAdded)
		assert.Equal(t, "root", payload.NodeID)
		assert.Equal(t, "c-fixed", payload.Comment.ID)
		assert.Equal(t, "looks good", payload.Comment.Text)
		assert.Equal(t, "carol", payload.Comment.AuthorID)
		assert.Equal(t, "carol-name", payload.Comment.Author)
		assert.False(t, payload.Comment.Timestamp.IsZero())
	}
	assert.Equal(t, StateDirty, e.Synchronizer.State("m1"))
}

func TestRelay_CommentAddRejectsBlankText(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	for _, text := range []string{"", "   ", "\n\t"} {
		err := send(e, alice, EventCommentAdd, CommentAddRequest{NodeID: "root", Text: text})
		assert.True(t, errors.IsValidation(err))
	}

	doc, _ := e.Workspace.Document("m1")
	assert.Empty(t, doc.Comments["root"])
	assert.Empty(t, bob.received(EventCommentAdded))
	assert.Equal(t, StateClean, e.Synchronizer.State("m1"))

	err := send(e, alice, EventCommentAdd, CommentAddRequest{NodeID: "ghost", Text: "hi"})
	assert.True(t, errors.IsNotFound(err))
}

func TestRelay_SaveRepliesToRequester(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"text": "Saved"}}))

	require.NoError(t, send(e, bob, EventSaveMindmap, struct{}{}))

	saved := bob.received(EventMindmapSaved)
	require.Len(t, saved, 1)
	assert.Equal(t, "m1", saved[0].Data.(MindmapSaved).MindmapID)
	assert.Empty(t, alice.received(EventMindmapSaved))
	assert.Equal(t, 1, store.writeCount())
	assert.Equal(t, "Saved", store.lastWrite().Nodes[0].Text)
	assert.Equal(t, StateClean, e.Synchronizer.State("m1"))
}

func TestRelay_SaveFailureIsReported(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	bob := newMember("s-bob", "bob")
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"x": 5.0}}))
	store.setFailure(errors.Persistence(errors.CodePersistenceFailed, "disk full").Build())

	err := send(e, bob, EventSaveMindmap, struct{}{})

	assert.True(t, errors.IsPersistence(err))
	assert.Empty(t, bob.received(EventMindmapSaved))
	assert.Equal(t, StateDirty, e.Synchronizer.State("m1"))
}

func TestRelay_LeaveAndRejoinAnotherRoom(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	other := mindmap.NewDocument("m2", "Other", "alice", testNow)
	require.NoError(t, store.Put(context.Background(), other))

	alice, bob := newMember("s-alice", "alice"), newMember("s-bob", "bob")
	join(t, e, alice)
	join(t, e, bob)

	require.NoError(t, e.Relay.Handle(context.Background(), bob, EventJoinMindmap, []byte(`"m2"`)))
	assert.Len(t, alice.received(EventUserLeft), 1)
	room, _ := e.Registry.RoomOf("s-bob")
	assert.Equal(t, "m2", room)

	require.NoError(t, e.Relay.Handle(context.Background(), alice, EventLeaveMindmap, nil))
	_, inRoom := e.Registry.RoomOf("s-alice")
	assert.False(t, inRoom)
	assert.ElementsMatch(t, []string{"m2"}, e.Workspace.IDs(), "m1 is evicted once nobody holds it")
}

func TestRelay_UnknownEvent(t *testing.T) {
	e, _ := newTestEngine(t, time.Hour)
	err := e.Relay.Handle(context.Background(), newMember("s", "alice"), "drop_tables", nil)
	assert.True(t, errors.IsValidation(err))
}

func TestRelay_UnknownEventNamesShareOneMetricSeries(t *testing.T) {
	store := newRecordingStore()
	seedDocument(t, store)
	metrics := observability.NewCollector("relay_labels")
	e := NewEngine(store, nil, SyncConfig{QuietPeriod: time.Hour}, zap.NewNop(), metrics, nil)
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	bob := newMember("s-bob", "bob")

	for i := 0; i < 200; i++ {
		err := e.Relay.Handle(context.Background(), bob, fmt.Sprintf("junk_%d", i), nil)
		require.True(t, errors.IsValidation(err))
	}
	join(t, e, bob)

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.RelayEvents))
	assert.Equal(t, float64(200), testutil.ToFloat64(metrics.RelayEvents.WithLabelValues(EventUnknown, "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RelayEvents.WithLabelValues(EventJoinMindmap, "ok")))
}

func TestEventLabel(t *testing.T) {
	assert.Equal(t, EventNodeUpdate, EventLabel(EventNodeUpdate))
	assert.Equal(t, EventUnknown, EventLabel("node_updated"), "server events are not client events")
	assert.Equal(t, EventUnknown, EventLabel(""))
}
