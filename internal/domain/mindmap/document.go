// Package mindmap holds the shared graph that users edit together: nodes,
// links between them, per-node comment threads and the access list.
//
// The types are plain data with exported fields because the same values cross
// three boundaries: the websocket wire format (json), DynamoDB items
// (dynamodbav) and the SQL store's JSON columns. Invariants are enforced by the
// mutation methods and by Validate, not by hiding fields.
package mindmap

import (
	"fmt"
	"strings"
	"time"

	"thinknet-backend/internal/errors"
)

// RootNodeID is the id of the single node every document is anchored on.
const RootNodeID = "root"

// Permission is a collaborator's access level on a document.
type Permission string

const (
	PermissionNone  Permission = ""
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
	PermissionOwner Permission = "owner"
)

// Rank orders permissions: none < read < write < admin < owner.
func (p Permission) Rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	case PermissionOwner:
		return 4
	default:
		return 0
	}
}

// Grantable reports whether p may appear on a collaborator entry.
func (p Permission) Grantable() bool {
	return p == PermissionRead || p == PermissionWrite || p == PermissionAdmin
}

// Node is a single idea on the canvas.
type Node struct {
	ID        string    `json:"id" dynamodbav:"id"`
	X         float64   `json:"x" dynamodbav:"x"`
	Y         float64   `json:"y" dynamodbav:"y"`
	Text      string    `json:"text" dynamodbav:"text"`
	Level     int       `json:"level" dynamodbav:"level"`
	Color     string    `json:"color,omitempty" dynamodbav:"color,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty" dynamodbav:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Link is a directed edge between two nodes. The same pair may appear twice.
type Link struct {
	Source string `json:"source" dynamodbav:"source"`
	Target string `json:"target" dynamodbav:"target"`
}

// Comment is an append-only note attached to a node.
type Comment struct {
	ID        string    `json:"id" dynamodbav:"id"`
	Text      string    `json:"text" dynamodbav:"text"`
	Author    string    `json:"author" dynamodbav:"author"`
	AuthorID  string    `json:"authorId" dynamodbav:"authorId"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Collaborator grants a non-owner user access to a document.
type Collaborator struct {
	UserID     string     `json:"userId" dynamodbav:"userId"`
	Permission Permission `json:"permission" dynamodbav:"permission"`
}

// Document is a mind map.
type Document struct {
	ID             string               `json:"id" dynamodbav:"id"`
	Title          string               `json:"title" dynamodbav:"title"`
	Description    string               `json:"description,omitempty" dynamodbav:"description,omitempty"`
	Nodes          []Node               `json:"nodes" dynamodbav:"nodes"`
	Links          []Link               `json:"links" dynamodbav:"links"`
	Comments       map[string][]Comment `json:"comments" dynamodbav:"comments"`
	Owner          string               `json:"owner" dynamodbav:"owner"`
	Collaborators  []Collaborator       `json:"collaborators" dynamodbav:"collaborators"`
	IsPublic       bool                 `json:"isPublic" dynamodbav:"isPublic"`
	CreatedAt      time.Time            `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt" dynamodbav:"updatedAt"`
	LastModifiedBy string               `json:"lastModifiedBy,omitempty" dynamodbav:"lastModifiedBy,omitempty"`
}

// NewDocument creates a document holding only the root node.
func NewDocument(id, title, owner string, now time.Time) *Document {
	return &Document{
		ID:    id,
		Title: title,
		Nodes: []Node{{
			ID:        RootNodeID,
			Text:      title,
			Level:     0,
			CreatedBy: owner,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		Links:          []Link{},
		Comments:       map[string][]Comment{},
		Owner:          owner,
		Collaborators:  []Collaborator{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastModifiedBy: owner,
	}
}

func (d *Document) nodeIndex(id string) int {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

// HasNode reports whether a node with the given id exists.
func (d *Document) HasNode(id string) bool {
	return d.nodeIndex(id) >= 0
}

// Node returns a copy of the node with the given id.
func (d *Document) Node(id string) (Node, bool) {
	i := d.nodeIndex(id)
	if i < 0 {
		return Node{}, false
	}
	return d.Nodes[i], true
}

// CollaboratorPermission returns the permission granted to userID, if any.
func (d *Document) CollaboratorPermission(userID string) (Permission, bool) {
	for _, c := range d.Collaborators {
		if c.UserID == userID {
			return c.Permission, true
		}
	}
	return PermissionNone, false
}

func nodeNotFound(nodeID string) error {
	return errors.NotFound(errors.CodeNodeNotFound, "node not found").
		WithResource("node").
		WithDetails(nodeID).
		Build()
}

func (d *Document) touch(userID string, now time.Time) {
	d.UpdatedAt = now
	d.LastModifiedBy = userID
}

// UpdateNode merges patch into the node with the given id. The node is left
// unchanged when the patch is rejected.
func (d *Document) UpdateNode(nodeID string, patch NodePatch, userID string, now time.Time) error {
	i := d.nodeIndex(nodeID)
	if i < 0 {
		return nodeNotFound(nodeID)
	}
	updated := d.Nodes[i]
	if err := patch.Apply(&updated); err != nil {
		return err
	}
	updated.UpdatedAt = now
	d.Nodes[i] = updated
	d.touch(userID, now)
	return nil
}

// AddNode appends a new node and, when link is non-nil, a link touching it.
func (d *Document) AddNode(node Node, link *Link, userID string, now time.Time) error {
	if strings.TrimSpace(node.ID) == "" {
		return errors.Validation(errors.CodeInvalidInput, "node id is required").Build()
	}
	if d.HasNode(node.ID) {
		return errors.Validation(errors.CodeInvalidInput, "node id already exists").WithDetails(node.ID).Build()
	}
	if strings.TrimSpace(node.Text) == "" {
		return errors.Validation(errors.CodeInvalidInput, "node text must not be empty").Build()
	}
	if node.Level < 0 {
		return errors.Validation(errors.CodeInvalidInput, "node level must not be negative").Build()
	}
	if link != nil {
		ok := func(id string) bool { return id == node.ID || d.HasNode(id) }
		if !ok(link.Source) || !ok(link.Target) {
			return errors.Validation(errors.CodeInvalidInput, "link references unknown node").
				WithDetails(fmt.Sprintf("%s -> %s", link.Source, link.Target)).
				Build()
		}
	}

	node.CreatedBy = userID
	node.CreatedAt = now
	node.UpdatedAt = now
	d.Nodes = append(d.Nodes, node)
	if link != nil {
		d.Links = append(d.Links, *link)
	}
	d.touch(userID, now)
	return nil
}

// RemoveNode deletes a node, every link touching it and its comment thread.
func (d *Document) RemoveNode(nodeID, userID string, now time.Time) error {
	if nodeID == RootNodeID {
		return errors.Validation(errors.CodeInvalidInput, "the root node cannot be deleted").Build()
	}
	i := d.nodeIndex(nodeID)
	if i < 0 {
		return nodeNotFound(nodeID)
	}
	d.Nodes = append(d.Nodes[:i], d.Nodes[i+1:]...)

	kept := d.Links[:0]
	for _, l := range d.Links {
		if l.Source != nodeID && l.Target != nodeID {
			kept = append(kept, l)
		}
	}
	d.Links = kept
	delete(d.Comments, nodeID)
	d.touch(userID, now)
	return nil
}

// AddLink appends a link. Both endpoints must exist; duplicates are kept.
func (d *Document) AddLink(link Link, userID string, now time.Time) error {
	if !d.HasNode(link.Source) {
		return nodeNotFound(link.Source)
	}
	if !d.HasNode(link.Target) {
		return nodeNotFound(link.Target)
	}
	d.Links = append(d.Links, link)
	d.touch(userID, now)
	return nil
}

// AddComment appends comment to the node's thread. The text is trimmed and
// must not be empty.
func (d *Document) AddComment(nodeID string, comment Comment, now time.Time) (Comment, error) {
	comment.Text = strings.TrimSpace(comment.Text)
	if comment.Text == "" {
		return Comment{}, errors.Validation(errors.CodeInvalidInput, "comment text must not be empty").Build()
	}
	if !d.HasNode(nodeID) {
		return Comment{}, nodeNotFound(nodeID)
	}
	if d.Comments == nil {
		d.Comments = map[string][]Comment{}
	}
	comment.Timestamp = now
	d.Comments[nodeID] = append(d.Comments[nodeID], comment)
	d.touch(comment.AuthorID, now)
	return comment, nil
}

// Validate checks the structural invariants of a document.
func (d *Document) Validate() error {
	invalid := func(msg string, args ...any) error {
		return errors.Validation(errors.CodeInvalidDocument, "invalid mind map").
			WithResource("mindmap").
			WithDetails(fmt.Sprintf(msg, args...)).
			Build()
	}

	if d.ID == "" {
		return invalid("missing id")
	}
	if d.Owner == "" {
		return invalid("missing owner")
	}

	seen := make(map[string]struct{}, len(d.Nodes))
	roots := 0
	for _, n := range d.Nodes {
		if _, dup := seen[n.ID]; dup {
			return invalid("duplicate node id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.ID == RootNodeID {
			roots++
		}
		if strings.TrimSpace(n.Text) == "" {
			return invalid("node %q has empty text", n.ID)
		}
		if n.Level < 0 {
			return invalid("node %q has negative level", n.ID)
		}
	}
	if roots != 1 {
		return invalid("expected exactly one root node, found %d", roots)
	}

	for _, l := range d.Links {
		if _, ok := seen[l.Source]; !ok {
			return invalid("dangling link source %q", l.Source)
		}
		if _, ok := seen[l.Target]; !ok {
			return invalid("dangling link target %q", l.Target)
		}
	}

	users := make(map[string]struct{}, len(d.Collaborators))
	for _, c := range d.Collaborators {
		if _, dup := users[c.UserID]; dup {
			return invalid("duplicate collaborator %q", c.UserID)
		}
		users[c.UserID] = struct{}{}
		if !c.Permission.Grantable() {
			return invalid("collaborator %q has invalid permission %q", c.UserID, c.Permission)
		}
	}
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.Nodes = cloneSlice(d.Nodes)
	c.Links = cloneSlice(d.Links)
	c.Comments = cloneComments(d.Comments)
	c.Collaborators = cloneSlice(d.Collaborators)
	return &c
}

// Snapshot returns a deep copy of the content the synchronizer persists.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		Nodes:          append([]Node{}, d.Nodes...),
		Links:          append([]Link{}, d.Links...),
		Comments:       commentsOrEmpty(d.Comments),
		IsPublic:       d.IsPublic,
		UpdatedAt:      d.UpdatedAt,
		LastModifiedBy: d.LastModifiedBy,
	}
}

// SetAccess replaces the ownership and access list, leaving content alone.
func (d *Document) SetAccess(from *Document) {
	d.Owner = from.Owner
	d.Collaborators = cloneSlice(from.Collaborators)
	d.IsPublic = from.IsPublic
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

func cloneComments(in map[string][]Comment) map[string][]Comment {
	if in == nil {
		return nil
	}
	out := make(map[string][]Comment, len(in))
	for k, v := range in {
		out[k] = append([]Comment(nil), v...)
	}
	return out
}

// Snapshot is the content part of a document written on every flush. Owner,
// title, description and collaborators are owned by the CRUD surface and are
// never part of a snapshot.
type Snapshot struct {
	Nodes          []Node               `json:"nodes" dynamodbav:"nodes"`
	Links          []Link               `json:"links" dynamodbav:"links"`
	Comments       map[string][]Comment `json:"comments" dynamodbav:"comments"`
	IsPublic       bool                 `json:"isPublic" dynamodbav:"isPublic"`
	UpdatedAt      time.Time            `json:"updatedAt" dynamodbav:"updatedAt"`
	LastModifiedBy string               `json:"lastModifiedBy,omitempty" dynamodbav:"lastModifiedBy,omitempty"`
}

// ApplyTo overwrites the content fields of d with the snapshot.
func (s Snapshot) ApplyTo(d *Document) {
	d.Nodes = append([]Node{}, s.Nodes...)
	d.Links = append([]Link{}, s.Links...)
	d.Comments = commentsOrEmpty(s.Comments)
	d.IsPublic = s.IsPublic
	d.UpdatedAt = s.UpdatedAt
	d.LastModifiedBy = s.LastModifiedBy
}

func commentsOrEmpty(in map[string][]Comment) map[string][]Comment {
	if in == nil {
		return map[string][]Comment{}
	}
	return cloneComments(in)
}
