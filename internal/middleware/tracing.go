package middleware

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracing opens a server span per request and continues any incoming trace.
func Tracing(tracer trace.Tracer) func(http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()
	return func(next http.Handler) http.Handler {
		if tracer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.target", r.URL.Path),
					attribute.String("http.request_id", GetRequestID(r.Context())),
				),
			)
			defer span.End()

			m := httpsnoop.CaptureMetrics(next, w, r.WithContext(ctx))

			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				span.SetName(fmt.Sprintf("%s %s", r.Method, rctx.RoutePattern()))
				span.SetAttributes(attribute.String("http.route", rctx.RoutePattern()))
			}
			span.SetAttributes(attribute.Int("http.status_code", m.Code))
			if m.Code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(m.Code))
			}
		})
	}
}
