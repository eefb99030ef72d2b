package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamin"

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ingestion metrics
	EventsIngestedTotal  *prometheus.CounterVec
	EventsRejectedTotal  *prometheus.CounterVec
	PublishFailuresTotal prometheus.Counter
	GeoLookupsTotal      *prometheus.CounterVec

	// Sessions
	LiveSessions         prometheus.Gauge
	SessionsEvictedTotal prometheus.Counter

	// Dashboards
	QueryDuration *prometheus.HistogramVec

	// Database pool
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
	DBConnectionsIdle  prometheus.Gauge
	DBWaitCount        prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EventsIngestedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Events appended to the store",
			},
			[]string{"kind"},
		),
		EventsRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events that were not stored",
			},
			[]string{"reason"},
		),
		PublishFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_publish_failures_total",
				Help:      "Stored events that could not be published to the topic",
			},
		),
		GeoLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "geo_lookups_total",
				Help:      "Geo lookups by provider and result",
			},
			[]string{"provider", "result"},
		),

		LiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_sessions",
				Help:      "Entries in the session liveness map",
			},
		),
		SessionsEvictedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Liveness entries removed by the janitor",
			},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dashboard_query_duration_seconds",
				Help:      "Aggregation query duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"query"},
		),

		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_open", Help: "Open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_in_use", Help: "Database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_idle", Help: "Idle database connections",
		}),
		DBWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "db_connections_wait_count", Help: "Total connections waited for",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsIngestedTotal,
		m.EventsRejectedTotal,
		m.PublishFailuresTotal,
		m.GeoLookupsTotal,
		m.LiveSessions,
		m.SessionsEvictedTotal,
		m.QueryDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// EventIngested takes an already normalised kind label, callers map unknown
// kinds to "other" to keep cardinality bounded.
func (m *Metrics) EventIngested(kind string) {
	if m == nil {
		return
	}
	m.EventsIngestedTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) PublishFailed() {
	if m == nil {
		return
	}
	m.PublishFailuresTotal.Inc()
}

func (m *Metrics) GeoLookup(provider, result string) {
	if m == nil {
		return
	}
	m.GeoLookupsTotal.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.LiveSessions.Set(float64(n))
}

func (m *Metrics) SessionsEvicted(n int) {
	if m == nil {
		return
	}
	m.SessionsEvictedTotal.Add(float64(n))
}

func (m *Metrics) ObserveQuery(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}
