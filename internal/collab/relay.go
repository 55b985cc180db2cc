package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"thinknet-backend/internal/access"
	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
	"thinknet-backend/internal/infrastructure/observability"
)

const commentIDLength = 12

// Relay applies client events to live documents and fans them out to the
// room. Validation and permission failures are returned to the caller and
// never reach other members.
type Relay struct {
	registry  *RoomRegistry
	workspace *Workspace
	sync      *Synchronizer
	gate      *access.Gate

	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() (string, error)
}

// NewRelay creates a relay over the given registry, workspace and synchronizer.
func NewRelay(
	registry *RoomRegistry,
	workspace *Workspace,
	sync *Synchronizer,
	gate *access.Gate,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}
	return &Relay{
		registry:  registry,
		workspace: workspace,
		sync:      sync,
		gate:      gate,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() (string, error) { return gonanoid.New(commentIDLength) },
	}
}

// Handle dispatches one client event. The returned error is meant for the
// originating session only.
func (r *Relay) Handle(ctx context.Context, m Member, event string, data json.RawMessage) error {
	var err error
	switch event {
	case EventJoinMindmap:
		var id string
		if id, err = decodeJoin(data); err == nil {
			err = r.Join(ctx, m, id)
		}
	case EventLeaveMindmap:
		r.Leave(m)
	case EventNodeUpdate:
		err = r.nodeUpdate(m, data)
	case EventNodeAdd:
		err = r.nodeAdd(m, data)
	case EventNodeDelete:
		err = r.nodeDelete(m, data)
	case EventLinkAdd:
		err = r.linkAdd(m, data)
	case EventCursorMove:
		err = r.cursorMove(m, data)
	case EventCommentAdd:
		err = r.commentAdd(m, data)
	case EventSaveMindmap:
		err = r.save(ctx, m)
	default:
		err = errors.Validation(errors.CodeInvalidInput, "unknown event").WithDetails(event).Build()
	}

	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		r.logger.Debug("Event rejected",
			zap.String("event", EventLabel(event)),
			zap.String("connectionID", m.SessionID()),
			zap.String("userID", m.UserID()),
			zap.Error(err),
		)
	}
	r.metrics.RelayEvent(EventLabel(event), outcome)
	return err
}

// decodeJoin accepts either a bare JSON string or {"mindmapId": "..."}.
func decodeJoin(data json.RawMessage) (string, error) {
	var id string
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", invalidPayload(err)
		}
	} else {
		var req JoinRequest
		if err := decode(data, &req); err != nil {
			return "", err
		}
		id = req.MindmapID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.Validation(errors.CodeInvalidInput, "mindmap id is required").Build()
	}
	return id, nil
}

// Join puts m in the room of documentID. The joiner receives active_users
// followed by mindmap_state before any other room traffic. A session already
// in a room leaves it first.
func (r *Relay) Join(ctx context.Context, m Member, documentID string) error {
	ctx, span := r.tracer.Start(ctx, "collab.join", trace.WithAttributes(
		attribute.String("mindmap.id", documentID),
		attribute.String("user.id", m.UserID()),
	))
	defer span.End()

	if current, ok := r.registry.RoomOf(m.SessionID()); ok {
		if current == documentID {
			return nil
		}
		r.Leave(m)
	}

	if err := r.workspace.Acquire(ctx, documentID); err != nil {
		return err
	}

	err := r.workspace.View(documentID, func(doc *mindmap.Document) error {
		perm, err := r.gate.Authorize(m.UserID(), doc, access.ToView)
		if err != nil {
			return err
		}
		state := newMindmapState(doc, perm)
		r.registry.Join(m, documentID, func(others []Presence) {
			m.Send(Event{Name: EventActiveUsers, Data: others})
			m.Send(Event{Name: EventMindmapState, Data: state})
		})
		return nil
	})
	if err != nil {
		r.workspace.Release(documentID)
		return err
	}
	return nil
}

// Leave takes m out of its room, if any. Safe to call repeatedly.
func (r *Relay) Leave(m Member) {
	if documentID, ok := r.registry.Leave(m.SessionID()); ok {
		r.workspace.Release(documentID)
	}
}

func (r *Relay) roomOf(m Member) (string, error) {
	documentID, ok := r.registry.RoomOf(m.SessionID())
	if !ok {
		return "", errors.Forbidden(errors.CodeNotInRoom, "join a mindmap first").Build()
	}
	return documentID, nil
}

// mutate runs fn on the member's live document after checking desired
// against the current access list, then marks the document dirty. fn runs
// under the document lock, so the relay order of a document equals its
// apply order.
func (r *Relay) mutate(m Member, desired mindmap.Permission, fn func(documentID string, doc *mindmap.Document) error) error {
	documentID, err := r.roomOf(m)
	if err != nil {
		return err
	}
	err = r.workspace.Mutate(documentID, func(doc *mindmap.Document) error {
		if _, err := r.gate.Authorize(m.UserID(), doc, desired); err != nil {
			return err
		}
		return fn(documentID, doc)
	})
	if err != nil {
		return err
	}
	r.sync.MarkDirty(documentID)
	return nil
}

func (r *Relay) nodeUpdate(m Member, data json.RawMessage) error {
	var req NodeUpdateRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	if req.NodeID == "" {
		return errors.Validation(errors.CodeInvalidInput, "nodeId is required").Build()
	}
	patch, err := mindmap.ParseNodePatch(req.Updates)
	if err != nil {
		return err
	}
	if req.Updates == nil {
		req.Updates = map[string]any{}
	}

	return r.mutate(m, access.ToEdit, func(documentID string, doc *mindmap.Document) error {
		if err := doc.UpdateNode(req.NodeID, patch, m.UserID(), r.now()); err != nil {
			return err
		}
		r.registry.Broadcast(documentID, m.SessionID(), Event{Name: EventNodeUpdated, Data: NodeUpdated{
			NodeID:    req.NodeID,
			Updates:   req.Updates,
			UpdatedBy: m.UserID(),
		}})
		return nil
	})
}

func (r *Relay) nodeAdd(m Member, data json.RawMessage) error {
	var req NodeAddRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	return r.mutate(m, access.ToEdit, func(documentID string, doc *mindmap.Document) error {
		if err := doc.AddNode(req.Node, req.Link, m.UserID(), r.now()); err != nil {
			return err
		}
		added, _ := doc.Node(req.Node.ID)
		r.registry.Broadcast(documentID, m.SessionID(), Event{Name: EventNodeAdded, Data: NodeAdded{
			Node:    added,
			Link:    req.Link,
			AddedBy: m.UserID(),
		}})
		return nil
	})
}

func (r *Relay) nodeDelete(m Member, data json.RawMessage) error {
	var req NodeDeleteRequest
	if err := decode(data, &req); err != nil {
		return err
	}

	return r.mutate(m, access.ToEdit, func(documentID string, doc *mindmap.Document) error {
		if err := doc.RemoveNode(req.NodeID, m.UserID(), r.now()); err != nil {
			return err
		}
		r.registry.Broadcast(documentID, m.SessionID(), Event{Name: EventNodeDeleted, Data: NodeDeleted{
			NodeID:    req.NodeID,
			DeletedBy: m.UserID(),
		}})
		return nil
	})
}

func (r *Relay) linkAdd(m Member, data json.RawMessage) error {
	var link mindmap.Link
	if err := decode(data, &link); err != nil {
		return err
	}

	return r.mutate(m, access.ToEdit, func(documentID string, doc *mindmap.Document) error {
		if err := doc.AddLink(link, m.UserID(), r.now()); err != nil {
			return err
		}
		r.registry.Broadcast(documentID, m.SessionID(), Event{Name: EventLinkAdded, Data: LinkAdded{
			Link:    link,
			AddedBy: m.UserID(),
		}})
		return nil
	})
}

// cursorMove needs room membership only and never touches the document.
func (r *Relay) cursorMove(m Member, data json.RawMessage) error {
	var req CursorMoveRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	documentID, err := r.roomOf(m)
	if err != nil {
		return err
	}
	r.registry.Broadcast(documentID, m.SessionID(), Event{Name: EventCursorMoved, Data: CursorMoved{
		UserID:   m.UserID(),
		Username: m.Username(),
		X:        req.X,
		Y:        req.Y,
	}})
	return nil
}

// commentAdd is open to every member with read access. The originator also
// receives comment_added so it learns the generated id and timestamp.
func (r *Relay) commentAdd(m Member, data json.RawMessage) error {
	var req CommentAddRequest
	if err := decode(data, &req); err != nil {
		return err
	}
	id, err := r.newID()
	if err != nil {
		return errors.Internal(errors.CodeInternal, "failed to generate comment id").WithCause(err).Build()
	}

	return r.mutate(m, access.ToComment, func(documentID string, doc *mindmap.Document) error {
		comment, err := doc.AddComment(req.NodeID, mindmap.Comment{
			ID:       id,
			Text:     req.Text,
			Author:   m.Username(),
			AuthorID: m.UserID(),
		}, r.now())
		if err != nil {
			return err
		}
		r.registry.Broadcast(documentID, "", Event{Name: EventCommentAdded, Data: CommentAdded{
			NodeID:  req.NodeID,
			Comment: comment,
		}})
		return nil
	})
}

// save flushes the member's document now and answers with mindmap_saved.
// Unlike background flushes, a failure here is reported to the client.
func (r *Relay) save(ctx context.Context, m Member) error {
	documentID, err := r.roomOf(m)
	if err != nil {
		return err
	}
	err = r.workspace.View(documentID, func(doc *mindmap.Document) error {
		_, err := r.gate.Authorize(m.UserID(), doc, access.ToSave)
		return err
	})
	if err != nil {
		return err
	}
	if err := r.sync.Save(ctx, documentID); err != nil {
		return errors.Wrap(err, "save_mindmap", "failed to save mindmap")
	}
	m.Send(Event{Name: EventMindmapSaved, Data: MindmapSaved{MindmapID: documentID, SavedAt: r.now()}})
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.Validation(errors.CodeInvalidInput, "payload is required").Build()
	}
	if err := json.Unmarshal(data, v); err != nil {
		return invalidPayload(err)
	}
	return nil
}

func invalidPayload(err error) error {
	return errors.Validation(errors.CodeInvalidInput, "malformed payload").WithCause(err).Build()
}
