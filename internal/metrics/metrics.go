// Package metrics exposes relay counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	connections     prometheus.Gauge
	sessionsClosed  *prometheus.CounterVec
	frames          *prometheus.CounterVec
	events          *prometheus.CounterVec
	deliveries      prometheus.Counter
	backlogDuration prometheus.Histogram
	httpRequests    *prometheus.CounterVec
}

// New registers the relay collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections",
			Help: "Number of open client sessions",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Sessions closed, by reason",
		}, []string{"reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_total",
			Help: "Inbound client frames, by message type",
		}, []string{"type"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Published events, by outcome",
		}, []string{"outcome"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_deliveries_total",
			Help: "Events delivered to live subscriptions",
		}),
		backlogDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_backlog_query_duration_seconds",
			Help:    "Store query latency for subscription backlogs",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "HTTP requests, by route and status",
		}, []string{"method", "path", "status"}),
	}
	reg.MustRegister(
		m.connections,
		m.sessionsClosed,
		m.frames,
		m.events,
		m.deliveries,
		m.backlogDuration,
		m.httpRequests,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionOpened records a new session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// SessionClosed records a closed session.
func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.connections.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

// Frame records an inbound frame of the given message type.
func (m *Metrics) Frame(msgType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(msgType).Inc()
}

// Event records the outcome of a publish, e.g. "accepted" or a rejection
// prefix.
func (m *Metrics) Event(outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(outcome).Inc()
}

// Delivered records n broadcast deliveries.
func (m *Metrics) Delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.Add(float64(n))
}

// BacklogQuery records how long a backlog query took.
func (m *Metrics) BacklogQuery(d time.Duration) {
	if m == nil {
		return
	}
	m.backlogDuration.Observe(d.Seconds())
}

// HTTPRequest records a served HTTP request.
func (m *Metrics) HTTPRequest(method, path, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, status).Inc()
}
