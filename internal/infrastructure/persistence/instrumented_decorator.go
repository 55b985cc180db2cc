package persistence

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"thinknet-backend/internal/domain/mindmap"
	"thinknet-backend/internal/infrastructure/observability"
)

// InstrumentedDocumentStore records a span and metrics for every storage call.
type InstrumentedDocumentStore struct {
	inner   DocumentStore
	metrics *observability.Collector
	tracer  trace.Tracer
}

// NewInstrumentedDocumentStore wraps inner. Both metrics and tracer may be nil.
func NewInstrumentedDocumentStore(inner DocumentStore, metrics *observability.Collector, tracer trace.Tracer) *InstrumentedDocumentStore {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(observability.TracerName)
	}
	return &InstrumentedDocumentStore{inner: inner, metrics: metrics, tracer: tracer}
}

func (s *InstrumentedDocumentStore) Fetch(ctx context.Context, id string) (*mindmap.Document, error) {
	ctx, span := s.tracer.Start(ctx, "store.Fetch", trace.WithAttributes(attribute.String("mindmap.id", id)))
	defer span.End()

	start := time.Now()
	doc, err := s.inner.Fetch(ctx, id)
	s.metrics.StoreOperation("fetch", err, time.Since(start))
	endSpan(span, err)
	return doc, err
}

func (s *InstrumentedDocumentStore) Replace(ctx context.Context, id string, snap mindmap.Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "store.Replace", trace.WithAttributes(
		attribute.String("mindmap.id", id),
		attribute.Int("mindmap.nodes", len(snap.Nodes)),
		attribute.Int("mindmap.links", len(snap.Links)),
	))
	defer span.End()

	start := time.Now()
	err := s.inner.Replace(ctx, id, snap)
	s.metrics.StoreOperation("replace", err, time.Since(start))
	endSpan(span, err)
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
