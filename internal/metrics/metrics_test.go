package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.RecordSwap(true)
	m.RecordSwap(true)
	m.RecordSwap(false)
	m.RecordBuy(0.2)
	m.RecordError("receipt")
	m.RecordFailover("https://a.example", "getLogs")
	m.SetActivePairs(3)
	m.RecordStoreWrite("upsert")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SwapEvents.WithLabelValues("buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SwapEvents.WithLabelValues("sell")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BuysPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandlerErrors.WithLabelValues("receipt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCFailovers.WithLabelValues("https://a.example", "getLogs")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActivePairs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreWrites.WithLabelValues("upsert")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSwap(true)
		m.RecordBuy(1)
		m.RecordError("x")
		m.SetActivePairs(1)
		m.RecordFailover("a", "b")
		m.RecordFault()
		m.RecordStoreWrite("delete")
		m.SetStalePairs(2)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetActivePairs(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "swap_listener_listener_active_pairs 2")
}
