// Package persistence defines the storage ports used by the realtime engine
// and the decorators shared by every backend.
//
// The same DocumentStore serves the long-lived websocket server and the
// one-shot Lambda handler, so the engine never knows which process model it
// runs under. Backends live in subpackages: memory, dynamodb and sqlstore.
package persistence

import (
	"context"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
)

// DocumentStore is durable storage for mind maps.
type DocumentStore interface {
	// Fetch returns the stored document or a NOT_FOUND error.
	Fetch(ctx context.Context, id string) (*mindmap.Document, error)

	// Replace overwrites the content of an existing document with snap.
	// Owner, title, description and collaborators are left untouched.
	// A missing document is a NOT_FOUND error.
	Replace(ctx context.Context, id string, snap mindmap.Snapshot) error
}

// UserDirectory resolves user profiles.
type UserDirectory interface {
	FetchUser(ctx context.Context, id string) (*user.User, error)
}
