// Package observability holds the Prometheus collector and OpenTelemetry
// tracing setup shared by the realtime engine and the HTTP surface.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Realtime metrics
	ConnectionsActive prometheus.Gauge
	RoomsActive       prometheus.Gauge
	SessionsActive    prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesDropped   prometheus.Counter
	SlowConsumers     prometheus.Counter
	RelayEvents       *prometheus.CounterVec

	// Persistence metrics
	Flushes        *prometheus.CounterVec
	FlushDuration  prometheus.Histogram
	DirtyDocuments prometheus.Gauge
	StoreOps       *prometheus.CounterVec
	StoreDuration  *prometheus.HistogramVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of open websocket connections",
		}),
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Number of mind maps with at least one joined session",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "room_sessions_active",
			Help:      "Number of sessions joined to a room",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_received_total",
			Help:      "Client messages received, by event",
		}, []string{"event"}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Outbound messages dropped because a session buffer was full",
		}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_slow_consumers_disconnected_total",
			Help:      "Sessions disconnected for falling behind",
		}),
		RelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Edit events handled by the relay, by kind and outcome",
		}, []string{"kind", "outcome"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_flushes_total",
			Help:      "Snapshot writes attempted, by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_flush_duration_seconds",
			Help:      "Duration of snapshot writes",
			Buckets:   prometheus.DefBuckets,
		}),
		DirtyDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_dirty_documents",
			Help:      "Documents with changes not yet persisted",
		}),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Document store operations",
		}, []string{"operation", "status"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Document store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.ConnectionsActive,
		c.RoomsActive,
		c.SessionsActive,
		c.MessagesReceived,
		c.MessagesDropped,
		c.SlowConsumers,
		c.RelayEvents,
		c.Flushes,
		c.FlushDuration,
		c.DirtyDocuments,
		c.StoreOps,
		c.StoreDuration,
		c.CacheHits,
		c.CacheMisses,
	)
	return c
}

// Registry returns the Prometheus registry for this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ConnectionOpened increments the open connection gauge.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.ConnectionsActive.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.ConnectionsActive.Dec()
}

// SetRoomStats publishes the registry sizes.
func (c *Collector) SetRoomStats(rooms, sessions int) {
	if c == nil {
		return
	}
	c.RoomsActive.Set(float64(rooms))
	c.SessionsActive.Set(float64(sessions))
}

// MessageReceived counts an inbound client event.
func (c *Collector) MessageReceived(event string) {
	if c == nil {
		return
	}
	c.MessagesReceived.WithLabelValues(event).Inc()
}

// MessageDropped counts an outbound message lost to a full buffer.
func (c *Collector) MessageDropped() {
	if c == nil {
		return
	}
	c.MessagesDropped.Inc()
}

// SlowConsumerDisconnected counts a session closed for falling behind.
func (c *Collector) SlowConsumerDisconnected() {
	if c == nil {
		return
	}
	c.SlowConsumers.Inc()
}

// RelayEvent counts a handled edit event. outcome is "ok" or an error type.
func (c *Collector) RelayEvent(kind, outcome string) {
	if c == nil {
		return
	}
	c.RelayEvents.WithLabelValues(kind, outcome).Inc()
}

// FlushCompleted records a snapshot write.
func (c *Collector) FlushCompleted(trigger string, err error, d time.Duration) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.Flushes.WithLabelValues(trigger, outcome).Inc()
	c.FlushDuration.Observe(d.Seconds())
}

// SetDirtyDocuments publishes the number of dirty documents.
func (c *Collector) SetDirtyDocuments(n int) {
	if c == nil {
		return
	}
	c.DirtyDocuments.Set(float64(n))
}

// StoreOperation records a document store call.
func (c *Collector) StoreOperation(operation string, err error, d time.Duration) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.StoreOps.WithLabelValues(operation, status).Inc()
	c.StoreDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// CacheHit counts a cache hit.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

// CacheMiss counts a cache miss.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}
