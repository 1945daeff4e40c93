package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framevault_test_total",
		Help: "test counter",
	})

	require.NoError(t, registry.RegisterCounter("fetch", "framevault_test_total", counter))
	counter.Add(3)

	// Duplicate registration under the same service/name is rejected
	assert.Error(t, registry.RegisterCounter("fetch", "framevault_test_total", counter))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "framevault_test_gauge",
		Help: "test gauge",
	})
	require.NoError(t, registry.RegisterGauge("cache", "framevault_test_gauge", gauge))

	assert.True(t, registry.Unregister("cache", "framevault_test_gauge"))
	assert.False(t, registry.Unregister("cache", "framevault_test_gauge"))

	// Re-registration after unregister succeeds
	assert.NoError(t, registry.RegisterGauge("cache", "framevault_test_gauge", gauge))
}

func TestHandlerServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "framevault_requests_total",
		Help: "requests",
	})
	require.NoError(t, registry.RegisterCounter("gateway", "framevault_requests_total", counter))
	counter.Inc()

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "framevault_requests_total 1")
}
