package collab

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"thinknet-backend/internal/access"
	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/infrastructure/messaging"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/infrastructure/persistence"
)

// Engine wires the registry, workspace, synchronizer and relay together.
type Engine struct {
	Registry     *RoomRegistry
	Workspace    *Workspace
	Synchronizer *Synchronizer
	Relay        *Relay

	store persistence.DocumentStore
	gate  *access.Gate
}

// NewEngine builds an engine over store.
func NewEngine(
	store persistence.DocumentStore,
	publisher messaging.Publisher,
	config SyncConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate := access.NewGate()
	registry := NewRoomRegistry(logger.Named("registry"), metrics)
	workspace := NewWorkspace(store, logger.Named("workspace"))
	synchronizer := NewSynchronizer(store, workspace, publisher, config, logger.Named("sync"), metrics, tracer)

	workspace.trackPending(synchronizer.IsPending)
	synchronizer.OnClean(workspace.EvictIfIdle)

	return &Engine{
		Registry:     registry,
		Workspace:    workspace,
		Synchronizer: synchronizer,
		Relay:        NewRelay(registry, workspace, synchronizer, gate, logger.Named("relay"), metrics, tracer),
		store:        store,
		gate:         gate,
	}
}

// Read returns the document for a reader. A live copy wins over storage so
// readers never see a stale durable copy while edits are pending.
func (e *Engine) Read(ctx context.Context, userID, documentID string) (*mindmap.Document, mindmap.Permission, error) {
	doc, live := e.Workspace.Document(documentID)
	if !live {
		var err error
		if doc, err = e.store.Fetch(ctx, documentID); err != nil {
			return nil, mindmap.PermissionNone, err
		}
	}
	perm, err := e.gate.Authorize(userID, doc, access.ToView)
	if err != nil {
		return nil, mindmap.PermissionNone, err
	}
	return doc, perm, nil
}

// Save forces a flush of a live document on behalf of userID.
func (e *Engine) Save(ctx context.Context, userID, documentID string) error {
	doc, live := e.Workspace.Document(documentID)
	if !live {
		var err error
		if doc, err = e.store.Fetch(ctx, documentID); err != nil {
			return err
		}
	}
	if _, err := e.gate.Authorize(userID, doc, access.ToSave); err != nil {
		return err
	}
	if !live {
		return nil
	}
	return e.Synchronizer.Save(ctx, documentID)
}

// Presence lists the users in a document's room, for readers allowed to see it.
func (e *Engine) Presence(ctx context.Context, userID, documentID string) ([]Presence, error) {
	if _, _, err := e.Read(ctx, userID, documentID); err != nil {
		return nil, err
	}
	return e.Registry.Members(documentID), nil
}

// Run performs background work until ctx ends.
func (e *Engine) Run(ctx context.Context, accessRefresh time.Duration) {
	e.Workspace.RunAccessRefresh(ctx, accessRefresh)
}

// Shutdown flushes every dirty document.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.Synchronizer.Close(ctx)
}
