// Package memory is an in-process document store for development and tests.
package memory

import (
	"context"
	"sync"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/errors"
)

// Store keeps documents and users in maps. Values are copied on the way in
// and out so callers never share memory with the store.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*mindmap.Document
	users     map[string]user.User
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]*mindmap.Document),
		users:     make(map[string]user.User),
	}
}

// Put creates or overwrites a whole document.
func (s *Store) Put(ctx context.Context, doc *mindmap.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc.Clone()
	return nil
}

// Fetch returns a copy of the stored document.
func (s *Store) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, notFound(id)
	}
	return doc.Clone(), nil
}

// Replace overwrites the content fields of a stored document.
func (s *Store) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return notFound(id)
	}
	snap.ApplyTo(doc)
	return nil
}

// UpdateAccess replaces the owner-managed access list of a stored document.
func (s *Store) UpdateAccess(ctx context.Context, id string, collaborators []mindmap.Collaborator, public bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return notFound(id)
	}
	doc.Collaborators = append([]mindmap.Collaborator(nil), collaborators...)
	doc.IsPublic = public
	return nil
}

// PutUser stores a user profile.
func (s *Store) PutUser(u user.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// FetchUser returns a stored user profile.
func (s *Store) FetchUser(ctx context.Context, id string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeUserNotFound, "user not found").
			WithResource("user").
			WithDetails(id).
			Build()
	}
	return &u, nil
}

func notFound(id string) error {
	return errors.NotFound(errors.CodeMindmapNotFound, "mindmap not found").
		WithResource("mindmap").
		WithDetails(id).
		Build()
}
