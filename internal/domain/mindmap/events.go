package mindmap

import (
	"time"

	"github.com/google/uuid"
)

// EventTypeMindmapPersisted is emitted after a snapshot reached durable storage.
const EventTypeMindmapPersisted = "MindmapPersisted"

// PersistedEvent records one successful flush of a document.
type PersistedEvent struct {
	EventID        string    `json:"eventId"`
	MindmapID      string    `json:"mindmapId"`
	LastModifiedBy string    `json:"lastModifiedBy,omitempty"`
	NodeCount      int       `json:"nodeCount"`
	LinkCount      int       `json:"linkCount"`
	Forced         bool      `json:"forced"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewPersistedEvent describes a flush of snap for document id.
func NewPersistedEvent(id string, snap Snapshot, forced bool, at time.Time) PersistedEvent {
	return PersistedEvent{
		EventID:        uuid.New().String(),
		MindmapID:      id,
		LastModifiedBy: snap.LastModifiedBy,
		NodeCount:      len(snap.Nodes),
		LinkCount:      len(snap.Links),
		Forced:         forced,
		OccurredAt:     at,
	}
}

// EventType returns the event's type name.
func (e PersistedEvent) EventType() string { return EventTypeMindmapPersisted }

// AggregateID returns the mind map id.
func (e PersistedEvent) AggregateID() string { return e.MindmapID }
