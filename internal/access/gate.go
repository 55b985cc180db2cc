// Package access decides what a user may do with a mind map.
package access

import (
	"fmt"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
)

// Permission levels required by each privileged operation.
const (
	ToView    = mindmap.PermissionRead
	ToComment = mindmap.PermissionRead
	ToEdit    = mindmap.PermissionWrite
	ToSave    = mindmap.PermissionWrite
	ToShare   = mindmap.PermissionAdmin
	ToDelete  = mindmap.PermissionOwner
)

// Gate evaluates permissions against a document's current access list. It
// holds no state, so a result is never reused across operations.
type Gate struct{}

// NewGate returns a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Effective returns the permission userID holds on doc.
func (g *Gate) Effective(userID string, doc *mindmap.Document) mindmap.Permission {
	if doc == nil || userID == "" {
		return mindmap.PermissionNone
	}
	if doc.Owner == userID {
		return mindmap.PermissionOwner
	}
	if p, ok := doc.CollaboratorPermission(userID); ok && p.Grantable() {
		return p
	}
	if doc.IsPublic {
		return mindmap.PermissionRead
	}
	return mindmap.PermissionNone
}

// Authorize returns the effective permission when it is at least desired,
// otherwise a FORBIDDEN error.
func (g *Gate) Authorize(userID string, doc *mindmap.Document, desired mindmap.Permission) (mindmap.Permission, error) {
	effective := g.Effective(userID, doc)
	if effective.Rank() >= desired.Rank() && effective != mindmap.PermissionNone {
		return effective, nil
	}

	resource := ""
	if doc != nil {
		resource = doc.ID
	}
	return effective, errors.Forbidden(errors.CodeAccessDenied, fmt.Sprintf("%s access required", desired)).
		WithResource(resource).
		WithUserID(userID).
		Build()
}
