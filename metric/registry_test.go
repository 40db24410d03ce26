package metric

import (
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.Same(t, registry.Metrics, registry.CoreMetrics())
}

func TestMetricsRegistry_Register(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_counter",
		Help: "A test counter",
	})

	require.NoError(t, registry.Register("test-service", "test_counter", counter))
	counter.Inc()

	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_counter" {
			found = true
			break
		}
	}
	assert.True(t, found, "Counter should be registered in Prometheus registry")
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.Register("svc", "dup_gauge", gauge))

	err := registry.Register("svc", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same collector under another key collides in Prometheus
	err = registry.Register("other", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vec_total", Help: "vec"}, []string{"x"})
	require.NoError(t, registry.Register("svc", "vec_total", vec))

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth", Help: "depth"})
	require.NoError(t, registry.Register("svc", "depth", gauge))

	assert.Equal(t, 2, registry.Unregister("svc"))
	assert.Equal(t, 0, registry.Unregister("svc"))

	require.NoError(t, registry.Register("svc", "vec_total", vec))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_%d", i)
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: name})
			assert.NoError(t, registry.Register("svc", name, c))
		}(i)
	}
	wg.Wait()
}

func TestMetrics_RecordMethods(t *testing.T) {
	m := NewMetrics()

	m.RecordBatch("http", 3)
	m.RecordEvaluation(2, "matched")
	m.RecordTruncated(2, "branches")
	m.RecordQueryFailure(2)
	m.RecordFiltered(1, 2)
	m.RecordFoldCancelled(4)
	m.RecordBundlesOpen(5)
	m.RecordDelivery(0, "success", 10*time.Millisecond)
	m.RecordAttempt(0)
	m.RecordNATSStatus(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesReceived.WithLabelValues("http")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ChangeSetsReceived.WithLabelValues("http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuleEvaluations.WithLabelValues("2", "matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchTruncated.WithLabelValues("2", "branches")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChangeSetsFiltered.WithLabelValues("1")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FoldCancelled))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BundlesOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("0", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBatch("http", 1)
		m.RecordDelivery(0, "failed", time.Second)
		m.RecordError("dispatch", "transient")
	})
}

func TestHandler(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.Metrics.RecordBatch("http", 1)

	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "delta_intake_batches_total")
	assert.Contains(t, string(body), "promhttp_metric_handler_requests_total")
}
