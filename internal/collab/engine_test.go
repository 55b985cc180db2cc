package collab

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
)

func TestEngine_ReadPrefersLiveCopy(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	ctx := context.Background()

	doc, perm, err := e.Read(ctx, "carol", "m1")
	require.NoError(t, err)
	assert.Equal(t, mindmap.PermissionRead, perm)
	assert.Len(t, doc.Nodes, 1)

	bob := newMember("s-bob", "bob")
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeAdd, NodeAddRequest{Node: mindmap.Node{ID: "n1", Text: "draft", Level: 1}}))

	doc, _, err = e.Read(ctx, "carol", "m1")
	require.NoError(t, err)
	assert.True(t, doc.HasNode("n1"), "pending edits are visible to readers")
	assert.Equal(t, 0, store.writeCount())

	_, _, err = e.Read(ctx, "mallory", "m1")
	assert.True(t, errors.IsForbidden(err))
	_, _, err = e.Read(ctx, "carol", "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestEngine_SaveAndPresence(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, "alice", "m1"), "nothing live to save")
	assert.True(t, errors.IsForbidden(e.Save(ctx, "carol", "m1")))

	bob := newMember("s-bob", "bob")
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"text": "v2"}}))
	require.NoError(t, e.Save(ctx, "alice", "m1"))
	assert.Equal(t, 1, store.writeCount())

	members, err := e.Presence(ctx, "carol", "m1")
	require.NoError(t, err)
	assert.Equal(t, []Presence{{ID: "bob", Username: "bob-name"}}, members)

	_, err = e.Presence(ctx, "mallory", "m1")
	assert.True(t, errors.IsForbidden(err))
}

func TestEngine_ShutdownFlushesPendingEdits(t *testing.T) {
	e, store := newTestEngine(t, time.Hour)
	bob := newMember("s-bob", "bob")
	join(t, e, bob)
	require.NoError(t, send(e, bob, EventNodeUpdate, NodeUpdateRequest{NodeID: "root", Updates: map[string]any{"x": 42.0}}))

	require.NoError(t, e.Shutdown(context.Background()))

	stored, err := store.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	root, _ := stored.Node("root")
	assert.Equal(t, 42.0, root.X)
}
