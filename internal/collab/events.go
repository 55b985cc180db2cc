// Package collab is the realtime core: room membership, the edit relay, the
// live document workspace and the debounced persistence synchronizer.
package collab

import (
	"time"

	"thinknet-backend/internal/domain/mindmap"
)

// Client to engine event names.
const (
	EventJoinMindmap  = "join_mindmap"
	EventLeaveMindmap = "leave_mindmap"
	EventNodeUpdate   = "node_update"
	EventNodeAdd      = "node_add"
	EventNodeDelete   = "node_delete"
	EventLinkAdd      = "link_add"
	EventCursorMove   = "cursor_move"
	EventCommentAdd   = "comment_add"
	EventSaveMindmap  = "save_mindmap"
)

// Engine to client event names.
const (
	EventActiveUsers  = "active_users"
	EventMindmapState = "mindmap_state"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventNodeUpdated  = "node_updated"
	EventNodeAdded    = "node_added"
	EventNodeDeleted  = "node_deleted"
	EventLinkAdded    = "link_added"
	EventCursorMoved  = "cursor_moved"
	EventCommentAdded = "comment_added"
	EventMindmapSaved = "mindmap_saved"
	EventError        = "error"
)

// EventUnknown is the metric label for client events outside the protocol.
const EventUnknown = "unknown"

var clientEvents = map[string]struct{}{
	EventJoinMindmap:  {},
	EventLeaveMindmap: {},
	EventNodeUpdate:   {},
	EventNodeAdd:      {},
	EventNodeDelete:   {},
	EventLinkAdd:      {},
	EventCursorMove:   {},
	EventCommentAdd:   {},
	EventSaveMindmap:  {},
}

// EventLabel returns name if it is a client event and EventUnknown otherwise.
// Event names come from clients and must not become unbounded label values.
func EventLabel(name string) string {
	if _, ok := clientEvents[name]; ok {
		return name
	}
	return EventUnknown
}

// Event is the wire envelope: {"event": name, "data": payload}.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

// Presence identifies a room member to other members.
type Presence struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// JoinRequest is the payload of join_mindmap. Older clients send the id as a
// bare JSON string.
type JoinRequest struct {
	MindmapID string `json:"mindmapId"`
}

// NodeUpdateRequest is the payload of node_update.
type NodeUpdateRequest struct {
	NodeID  string         `json:"nodeId"`
	Updates map[string]any `json:"updates"`
}

// NodeAddRequest is the payload of node_add.
type NodeAddRequest struct {
	Node mindmap.Node  `json:"node"`
	Link *mindmap.Link `json:"link,omitempty"`
}

// NodeDeleteRequest is the payload of node_delete.
type NodeDeleteRequest struct {
	NodeID string `json:"nodeId"`
}

// CursorMoveRequest is the payload of cursor_move.
type CursorMoveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CommentAddRequest is the payload of comment_add.
type CommentAddRequest struct {
	NodeID string `json:"nodeId"`
	Text   string `json:"text"`
}

// NodeUpdated is relayed after a node_update was applied.
type NodeUpdated struct {
	NodeID    string         `json:"nodeId"`
	Updates   map[string]any `json:"updates"`
	UpdatedBy string         `json:"updatedBy"`
}

// NodeAdded is relayed after a node_add was applied.
type NodeAdded struct {
	Node    mindmap.Node  `json:"node"`
	Link    *mindmap.Link `json:"link,omitempty"`
	AddedBy string        `json:"addedBy"`
}

// NodeDeleted is relayed after a node_delete was applied.
type NodeDeleted struct {
	NodeID    string `json:"nodeId"`
	DeletedBy string `json:"deletedBy"`
}

// LinkAdded is relayed after a link_add was applied.
type LinkAdded struct {
	Link    mindmap.Link `json:"link"`
	AddedBy string       `json:"addedBy"`
}

// CursorMoved is relayed for every cursor_move.
type CursorMoved struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// CommentAdded is relayed after a comment_add was applied.
type CommentAdded struct {
	NodeID  string          `json:"nodeId"`
	Comment mindmap.Comment `json:"comment"`
}

// MindmapSaved answers an explicit save.
type MindmapSaved struct {
	MindmapID string    `json:"mindmapId"`
	SavedAt   time.Time `json:"savedAt"`
}

// MindmapState is the live document sent to a joining client.
type MindmapState struct {
	ID          string                       `json:"id"`
	Title       string                       `json:"title"`
	Description string                       `json:"description,omitempty"`
	Nodes       []mindmap.Node               `json:"nodes"`
	Links       []mindmap.Link               `json:"links"`
	Comments    map[string][]mindmap.Comment `json:"comments"`
	Owner       string                       `json:"owner"`
	IsPublic    bool                         `json:"isPublic"`
	Permission  mindmap.Permission           `json:"permission"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func newMindmapState(doc *mindmap.Document, perm mindmap.Permission) MindmapState {
	snap := doc.Snapshot()
	return MindmapState{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Nodes:       snap.Nodes,
		Links:       snap.Links,
		Comments:    snap.Comments,
		Owner:       doc.Owner,
		IsPublic:    doc.IsPublic,
		Permission:  perm,
		UpdatedAt:   doc.UpdatedAt,
	}
}
