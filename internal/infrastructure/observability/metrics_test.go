package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsRealtimeMetrics(t *testing.T) {
	c := NewCollector("test")

	c.ConnectionOpened()
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.SetRoomStats(3, 7)
	c.MessageReceived("node_update")
	c.MessageDropped()
	c.RelayEvent("node_update", "ok")
	c.FlushCompleted("debounce", nil, 10*time.Millisecond)
	c.FlushCompleted("debounce", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConnectionsActive))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.RoomsActive))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesReceived.WithLabelValues("node_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MessagesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Flushes.WithLabelValues("debounce", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Flushes.WithLabelValues("debounce", "failure")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectionOpened()
		c.SetRoomStats(1, 1)
		c.RelayEvent("cursor_move", "ok")
		c.StoreOperation("Replace", nil, time.Millisecond)
		c.CacheHit()
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("thinknet")
	c.StoreOperation("Fetch", nil, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `thinknet_store_operations_total{operation="Fetch",status="success"} 1`)
}

func TestInitTracing_Disabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), TracingConfig{Enabled: false})
	require.NoError(t, err)

	_, span := tp.Tracer().Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
