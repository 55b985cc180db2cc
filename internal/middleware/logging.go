package middleware

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"thinknet-backend/internal/infrastructure/observability"
)

// AccessLog logs each request and records it in metrics under its route
// pattern.
func AccessLog(logger *zap.Logger, metrics *observability.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(m.Code), m.Duration)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", m.Code),
				zap.Int64("bytes", m.Written),
				zap.Duration("duration", m.Duration),
				zap.String("requestID", GetRequestID(r.Context())),
			}
			if m.Code >= http.StatusInternalServerError {
				logger.Warn("request failed", fields...)
				return
			}
			logger.Debug("request served", fields...)
		})
	}
}
