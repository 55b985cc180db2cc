package collab

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/errors"
	"thinknet-backend/internal/infrastructure/persistence"
)

type liveDocument struct {
	mu   sync.Mutex
	doc  *mindmap.Document
	refs int // guarded by Workspace.mu
}

// Workspace holds the authoritative in-memory copy of every document with a
// live session or unflushed edits. Storage is only read when a document is
// first acquired and when its access fields are refreshed.
type Workspace struct {
	store  persistence.DocumentStore
	logger *zap.Logger

	mu          sync.Mutex
	docs        map[string]*liveDocument
	loads       singleflight.Group
	loadTimeout time.Duration
	pending     func(id string) bool
}

const defaultLoadTimeout = 10 * time.Second

// NewWorkspace creates an empty workspace backed by store.
func NewWorkspace(store persistence.DocumentStore, logger *zap.Logger) *Workspace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		store:       store,
		logger:      logger,
		docs:        make(map[string]*liveDocument),
		loadTimeout: defaultLoadTimeout,
		pending:     func(string) bool { return false },
	}
}

// trackPending sets the check consulted before evicting a document.
func (w *Workspace) trackPending(fn func(id string) bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = fn
}

// Acquire returns with the document loaded and its reference count raised.
// Concurrent loads of the same id share one storage read.
func (w *Workspace) Acquire(ctx context.Context, id string) error {
	w.mu.Lock()
	if ld, ok := w.docs[id]; ok {
		ld.refs++
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	// The load is shared by every concurrent joiner, so it must not end
	// when the first caller's session does.
	loads := w.loads.DoChan(id, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.loadTimeout)
		defer cancel()
		return w.store.Fetch(loadCtx, id)
	})
	var res singleflight.Result
	select {
	case res = <-loads:
	case <-ctx.Done():
		return ctx.Err()
	}
	if res.Err != nil {
		return res.Err
	}
	fetched := res.Val.(*mindmap.Document)

	w.mu.Lock()
	defer w.mu.Unlock()
	ld, ok := w.docs[id]
	if !ok {
		// Callers sharing a load must not share the document.
		ld = &liveDocument{doc: fetched.Clone()}
		w.docs[id] = ld
		w.logger.Debug("Loaded mindmap into workspace", zap.String("mindmapID", id))
	}
	ld.refs++
	return nil
}

// Release drops one reference. The document is evicted once nothing refers
// to it and it has no pending writes.
func (w *Workspace) Release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ld, ok := w.docs[id]
	if !ok {
		return
	}
	if ld.refs > 0 {
		ld.refs--
	}
	w.evictLocked(id, ld)
}

// EvictIfIdle evicts id when it has no references and no pending writes.
func (w *Workspace) EvictIfIdle(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ld, ok := w.docs[id]; ok {
		w.evictLocked(id, ld)
	}
}

func (w *Workspace) evictLocked(id string, ld *liveDocument) {
	if ld.refs > 0 || w.pending(id) {
		return
	}
	delete(w.docs, id)
	w.logger.Debug("Evicted mindmap from workspace", zap.String("mindmapID", id))
}

func (w *Workspace) get(id string) (*liveDocument, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ld, ok := w.docs[id]
	if !ok {
		return nil, errors.NotFound(errors.CodeMindmapNotFound, "mindmap is not open").
			WithResource("mindmap").
			WithDetails(id).
			Build()
	}
	return ld, nil
}

// View runs fn under the document lock. fn must not keep doc.
func (w *Workspace) View(id string, fn func(doc *mindmap.Document) error) error {
	return w.Mutate(id, fn)
}

// Mutate runs fn under the document lock. fn may change doc in place.
func (w *Workspace) Mutate(id string, fn func(doc *mindmap.Document) error) error {
	ld, err := w.get(id)
	if err != nil {
		return err
	}
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return fn(ld.doc)
}

// Snapshot copies the content of a live document.
func (w *Workspace) Snapshot(id string) (mindmap.Snapshot, bool) {
	ld, err := w.get(id)
	if err != nil {
		return mindmap.Snapshot{}, false
	}
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.doc.Snapshot(), true
}

// Document returns a deep copy of a live document.
func (w *Workspace) Document(id string) (*mindmap.Document, bool) {
	ld, err := w.get(id)
	if err != nil {
		return nil, false
	}
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.doc.Clone(), true
}

// IDs lists the live documents.
func (w *Workspace) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.docs))
	for id := range w.docs {
		ids = append(ids, id)
	}
	return ids
}

// RefreshAccess reloads the owner-managed access list of every live document
// so collaborator changes made elsewhere apply to sessions already joined.
func (w *Workspace) RefreshAccess(ctx context.Context) {
	for _, id := range w.IDs() {
		if ctx.Err() != nil {
			return
		}
		if err := w.RefreshDocumentAccess(ctx, id); err != nil {
			w.logger.Warn("Failed to refresh mindmap access",
				zap.String("mindmapID", id),
				zap.Error(err),
			)
		}
	}
}

// RefreshDocumentAccess copies owner, collaborators and the public flag of id
// from storage into the live copy.
func (w *Workspace) RefreshDocumentAccess(ctx context.Context, id string) error {
	fresh, err := w.store.Fetch(ctx, id)
	if err != nil {
		return err
	}
	// The document may have been evicted while we were fetching.
	_ = w.Mutate(id, func(doc *mindmap.Document) error {
		doc.SetAccess(fresh)
		return nil
	})
	return nil
}

// RunAccessRefresh calls RefreshAccess every interval until ctx ends.
func (w *Workspace) RunAccessRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RefreshAccess(ctx)
		}
	}
}
