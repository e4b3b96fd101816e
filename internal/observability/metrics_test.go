package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("corridorsim", "test", prometheus.NewRegistry())
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("corridorsim", "a", prometheus.NewRegistry())
		NewMetrics("corridorsim", "a", prometheus.NewRegistry())
	})
}

func TestRecordSimulation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSimulation("sgd-gbp", "serial", "SHA", nil, time.Millisecond)
	m.RecordSimulation("sgd-gbp", "serial", "SHA", nil, time.Millisecond)
	m.RecordSimulation("sgd-gbp", "cover", "OUR", errors.New("boom"), time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SimulationsTotal.WithLabelValues("sgd-gbp", "serial", "SHA", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SimulationsTotal.WithLabelValues("sgd-gbp", "cover", "OUR", "error")))
}

func TestRecordPlaybackAndSessions(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPlayback("next")
	m.RecordPlayback("next")
	m.RecordPlayback("jump")
	m.RecordSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PlaybackTransitions.WithLabelValues("next")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlaybackTransitions.WithLabelValues("jump")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsActive))
}

func TestUpdateServiceHealth(t *testing.T) {
	m := newTestMetrics(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceHealthy))

	m.UpdateServiceHealth(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ServiceHealthy))

	m.UpdateServiceHealth(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ServiceHealthy))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{204, "2xx"},
		{302, "3xx"},
		{404, "4xx"},
		{503, "5xx"},
		{101, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code), "code %d", tt.code)
	}
}

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	m := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(MetricsMiddleware(m))
	r.Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("missing"))
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/sessions/{id}", "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestsTotal))
}

func TestUptimeTrackingStops(t *testing.T) {
	m := newTestMetrics(t)
	done := make(chan struct{})
	m.StartUptimeTracking(time.Now(), done)
	close(done)
}
