package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the simulator
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Simulation metrics
	SimulationsTotal   *prometheus.CounterVec
	SimulationDuration *prometheus.HistogramVec
	CacheItems         prometheus.Gauge

	// Playback metrics
	PlaybackTransitions *prometheus.CounterVec
	SessionsActive      prometheus.Gauge

	// WebSocket metrics
	WSConnectionsActive  prometheus.Gauge
	WSMessagesTotal      *prometheus.CounterVec
	WSConnectionDuration prometheus.Histogram

	// System health metrics
	ServiceUptime   prometheus.Gauge
	ServiceHealthy  prometheus.Gauge
	LastHealthCheck prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg, or with the
// default registerer when reg is nil
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Simulation metrics
		SimulationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulations_total",
				Help:      "Total number of corridor simulations",
			},
			[]string{"corridor", "method", "bearer", "result"},
		),
		SimulationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "simulation_duration_seconds",
				Help:      "Corridor simulation duration in seconds",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"method"},
		),
		CacheItems: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "result_cache_items",
				Help:      "Number of cached simulation results",
			},
		),

		// Playback metrics
		PlaybackTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "playback_transitions_total",
				Help:      "Total number of playback transitions by kind",
			},
			[]string{"kind"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_active",
				Help:      "Number of live simulation sessions",
			},
		),

		// WebSocket metrics
		WSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "websocket_connections_active",
				Help:      "Number of active WebSocket connections",
			},
		),
		WSMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "websocket_messages_total",
				Help:      "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		WSConnectionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "websocket_connection_duration_seconds",
				Help:      "WebSocket connection duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
			},
		),

		// System health metrics
		ServiceUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_uptime_seconds",
				Help:      "Service uptime in seconds",
			},
		),
		ServiceHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "service_healthy",
				Help:      "Service health status (1 = healthy, 0 = unhealthy)",
			},
		),
		LastHealthCheck: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "last_health_check_timestamp",
				Help:      "Timestamp of last health check",
			},
		),
	}

	m.ServiceHealthy.Set(1)
	m.LastHealthCheck.SetToCurrentTime()

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordSimulation records one simulation run
func (m *Metrics) RecordSimulation(corridor, method, bearer string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SimulationsTotal.WithLabelValues(corridor, method, bearer, result).Inc()
	m.SimulationDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPlayback records a playback transition
func (m *Metrics) RecordPlayback(kind string) {
	m.PlaybackTransitions.WithLabelValues(kind).Inc()
}

// RecordSessions sets the live session count
func (m *Metrics) RecordSessions(active int) {
	m.SessionsActive.Set(float64(active))
}

// RecordWSConnection records WebSocket connection metrics
func (m *Metrics) RecordWSConnection(active int) {
	m.WSConnectionsActive.Set(float64(active))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, messageType string) {
	m.WSMessagesTotal.WithLabelValues(direction, messageType).Inc()
}

// RecordWSDisconnect records WebSocket disconnect duration
func (m *Metrics) RecordWSDisconnect(duration time.Duration) {
	m.WSConnectionDuration.Observe(duration.Seconds())
}

// UpdateServiceHealth updates service health status
func (m *Metrics) UpdateServiceHealth(healthy bool) {
	if healthy {
		m.ServiceHealthy.Set(1)
	} else {
		m.ServiceHealthy.Set(0)
	}
	m.LastHealthCheck.SetToCurrentTime()
}

// statusCode converts HTTP status code to string category
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// StartUptimeTracking updates the uptime gauge until done is closed
func (m *Metrics) StartUptimeTracking(startTime time.Time, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.ServiceUptime.Set(time.Since(startTime).Seconds())
			case <-done:
				return
			}
		}
	}()
}
