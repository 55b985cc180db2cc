package api

import (
	"time"

	"thinknet-backend/internal/domain/mindmap"
)

// MindmapResponse is the REST view of a mind map.
type MindmapResponse struct {
	ID          string                       `json:"id"`
	Title       string                       `json:"title"`
	Description string                       `json:"description"`
	Owner       string                       `json:"owner"`
	IsPublic    bool                         `json:"isPublic"`
	Nodes       []mindmap.Node               `json:"nodes"`
	Links       []mindmap.Link               `json:"links"`
	Comments    map[string][]mindmap.Comment `json:"comments"`
	Permission  mindmap.Permission           `json:"permission"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// NewMindmapResponse builds the response for a caller holding perm.
func NewMindmapResponse(doc *mindmap.Document, perm mindmap.Permission) MindmapResponse {
	return MindmapResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Owner:       doc.Owner,
		IsPublic:    doc.IsPublic,
		Nodes:       doc.Nodes,
		Links:       doc.Links,
		Comments:    doc.Comments,
		Permission:  perm,
		UpdatedAt:   doc.UpdatedAt,
	}
}

// SaveResponse acknowledges a forced save.
type SaveResponse struct {
	MindmapID string    `json:"mindmapId"`
	SavedAt   time.Time `json:"savedAt"`
}

// PresenceUser is one user in a room.
type PresenceUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PresenceResponse lists the users editing a mind map.
type PresenceResponse struct {
	MindmapID string         `json:"mindmapId"`
	Users     []PresenceUser `json:"users"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment"`
	Rooms       int    `json:"rooms"`
	Sessions    int    `json:"sessions"`
}
