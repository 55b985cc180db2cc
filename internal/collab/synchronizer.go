package collab

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/infrastructure/messaging"
	"thinknet-backend/internal/infrastructure/observability"
	"thinknet-backend/internal/infrastructure/persistence"
)

// SyncState is the persistence state of one document.
type SyncState int

const (
	StateClean SyncState = iota
	StateDirty
	StateFlushing
)

func (s SyncState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateFlushing:
		return "flushing"
	default:
		return "clean"
	}
}

// Flush triggers, used as metric labels.
const (
	triggerDebounce = "debounce"
	triggerRetry    = "retry"
	triggerSave     = "save"
	triggerShutdown = "shutdown"
)

// SnapshotSource supplies the content to write.
type SnapshotSource interface {
	// RefreshDocumentAccess reloads the access fields of a live document
	// from storage so a write does not revert changes made elsewhere.
	RefreshDocumentAccess(ctx context.Context, id string) error
	Snapshot(id string) (mindmap.Snapshot, bool)
}

// SyncConfig tunes the synchronizer.
type SyncConfig struct {
	QuietPeriod  time.Duration
	RetryDelay   time.Duration
	FlushTimeout time.Duration
}

type syncEntry struct {
	// flushMu serializes writes of one document.
	flushMu sync.Mutex

	// Guarded by Synchronizer.mu.
	state            SyncState
	timer            *time.Timer
	generation       uint64
	dirtyDuringFlush bool
	failures         int
}

// Synchronizer writes live documents back to storage once they have been
// quiet for a while. Each document moves Clean -> Dirty -> Flushing -> Clean.
// Writes never run on the relay path.
type Synchronizer struct {
	store     persistence.DocumentStore
	source    SnapshotSource
	publisher messaging.Publisher
	config    SyncConfig

	mu      sync.Mutex
	entries map[string]*syncEntry
	onClean []func(id string)
	closed  bool
	flushes sync.WaitGroup

	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer
	now     func() time.Time
}

// NewSynchronizer creates a synchronizer. publisher, metrics and tracer may be nil.
func NewSynchronizer(
	store persistence.DocumentStore,
	source SnapshotSource,
	publisher messaging.Publisher,
	config SyncConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = config.QuietPeriod
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 10 * time.Second
	}
	return &Synchronizer{
		store:     store,
		source:    source,
		publisher: publisher,
		config:    config,
		entries:   make(map[string]*syncEntry),
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		now:       time.Now,
	}
}

// OnClean registers fn to run after a document becomes clean.
func (s *Synchronizer) OnClean(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClean = append(s.onClean, fn)
}

// SetQuietPeriod changes the debounce delay for timers armed from now on.
func (s *Synchronizer) SetQuietPeriod(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.QuietPeriod = d
}

// SetRetryDelay changes the delay before retrying a failed write.
func (s *Synchronizer) SetRetryDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.RetryDelay = d
}

// MarkDirty records a mutation of id and restarts its quiet period. A
// mutation during a flush is remembered and scheduled when the flush ends.
func (s *Synchronizer) MarkDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &syncEntry{}
		s.entries[id] = e
	}
	e.generation++

	if e.state == StateFlushing {
		e.dirtyDuringFlush = true
		return
	}
	e.state = StateDirty
	s.armLocked(id, e, s.config.QuietPeriod, triggerDebounce)
	s.publishDirtyLocked()
}

// State returns the current state of id.
func (s *Synchronizer) State(id string) SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e.state
	}
	return StateClean
}

// IsPending reports whether id has edits that are not yet durable.
func (s *Synchronizer) IsPending(id string) bool {
	return s.State(id) != StateClean
}

// Save writes id now, bypassing the quiet period, and returns the write
// error. It waits for a flush already in progress and writes again only if
// edits arrived meanwhile.
func (s *Synchronizer) Save(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.flush(ctx, id, e, triggerSave, 0)
}

// Close stops every timer and flushes each dirty document once.
func (s *Synchronizer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.entries {
		s.stopTimerLocked(e)
	}
	s.mu.Unlock()

	s.flushes.Wait()

	// A Save may still be writing. Edits it missed leave the entry Dirty
	// with no timer, so wait for it before looking.
	s.mu.Lock()
	inFlight := make([]*syncEntry, 0, len(s.entries))
	for _, e := range s.entries {
		inFlight = append(inFlight, e)
	}
	s.mu.Unlock()
	for _, e := range inFlight {
		e.flushMu.Lock()
		e.flushMu.Unlock()
	}

	s.mu.Lock()
	dirty := make(map[string]*syncEntry)
	for id, e := range s.entries {
		if e.state == StateDirty {
			dirty[id] = e
		}
	}
	s.mu.Unlock()

	var errs []error
	for id, e := range dirty {
		if err := s.flush(ctx, id, e, triggerShutdown, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.logger.Error("Unflushed mindmaps at shutdown", zap.Int("count", len(errs)))
	}
	return stderrors.Join(errs...)
}

// armLocked (re)starts the timer of e. Expiry flushes unless a newer
// mutation has re-armed the timer since.
func (s *Synchronizer) armLocked(id string, e *syncEntry, delay time.Duration, trigger string) {
	s.stopTimerLocked(e)
	if s.closed {
		return
	}
	gen := e.generation
	s.flushes.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer s.flushes.Done()
		s.mu.Lock()
		current := e.timer == timer
		if current {
			e.timer = nil
		}
		s.mu.Unlock()
		if !current {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.config.FlushTimeout)
		defer cancel()
		_ = s.flush(ctx, id, e, trigger, gen)
	})
	e.timer = timer
}

// stopTimerLocked cancels a pending timer. A timer stopped before firing
// never runs its func, so its slot in s.flushes is released here.
func (s *Synchronizer) stopTimerLocked(e *syncEntry) {
	if e.timer == nil {
		return
	}
	if e.timer.Stop() {
		s.flushes.Done()
	}
	e.timer = nil
}

// flush writes the current snapshot of id. A non-zero gen makes the flush
// conditional on no mutation having happened since the timer was armed.
func (s *Synchronizer) flush(ctx context.Context, id string, e *syncEntry, trigger string, gen uint64) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	s.mu.Lock()
	if e.state != StateDirty || (gen != 0 && gen != e.generation) {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked(e)
	e.state = StateFlushing
	e.dirtyDuringFlush = false
	s.mu.Unlock()

	if err := s.source.RefreshDocumentAccess(ctx, id); err != nil {
		s.logger.Warn("Writing mindmap with cached access fields",
			zap.String("mindmapID", id),
			zap.Error(err),
		)
	}
	snap, ok := s.source.Snapshot(id)
	if !ok {
		// Nothing live to write; the document was evicted.
		s.finish(id, e, nil)
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "collab.flush", trace.WithAttributes(
		attribute.String("mindmap.id", id),
		attribute.String("flush.trigger", trigger),
		attribute.Int("mindmap.nodes", len(snap.Nodes)),
	))
	start := time.Now()
	err := s.store.Replace(ctx, id, snap)
	s.metrics.FlushCompleted(trigger, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	s.finish(id, e, err)
	if err != nil {
		return err
	}

	s.logger.Debug("Flushed mindmap",
		zap.String("mindmapID", id),
		zap.String("trigger", trigger),
		zap.Int("nodes", len(snap.Nodes)),
	)
	if s.publisher != nil {
		event := mindmap.NewPersistedEvent(id, snap, trigger == triggerSave, s.now())
		if perr := s.publisher.Publish(ctx, event); perr != nil {
			s.logger.Warn("Failed to publish persisted event",
				zap.String("mindmapID", id),
				zap.Error(perr),
			)
		}
	}
	return nil
}

// finish moves e out of Flushing after a write attempt.
func (s *Synchronizer) finish(id string, e *syncEntry, err error) {
	s.mu.Lock()
	var clean bool
	switch {
	case err != nil:
		e.failures++
		e.state = StateDirty
		e.dirtyDuringFlush = false
		s.logger.Error("Failed to flush mindmap",
			zap.String("mindmapID", id),
			zap.Int("failures", e.failures),
			zap.Duration("retryIn", s.config.RetryDelay),
			zap.Error(err),
		)
		s.armLocked(id, e, s.config.RetryDelay, triggerRetry)
	case e.dirtyDuringFlush:
		e.failures = 0
		e.state = StateDirty
		e.dirtyDuringFlush = false
		s.armLocked(id, e, s.config.QuietPeriod, triggerDebounce)
	default:
		e.failures = 0
		e.state = StateClean
		delete(s.entries, id)
		clean = true
	}
	hooks := s.onClean
	s.publishDirtyLocked()
	s.mu.Unlock()

	if clean {
		for _, fn := range hooks {
			fn(id)
		}
	}
}

func (s *Synchronizer) publishDirtyLocked() {
	s.metrics.SetDirtyDocuments(len(s.entries))
}
