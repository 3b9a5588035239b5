package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cdsmcp/internal/domain"
)

type PrometheusMetrics struct {
	sessionsCreated  prometheus.Counter
	sessionsClosed   *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	toolDuration     *prometheus.HistogramVec
	requestsRejected *prometheus.CounterVec
	catalogBuilds    *prometheus.CounterVec
	catalogEntries   *prometheus.GaugeVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cdsmcp_sessions_created_total",
				Help: "Total number of protocol sessions created",
			},
		),
		sessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdsmcp_sessions_closed_total",
				Help: "Total number of protocol sessions closed",
			},
			[]string{"reason"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cdsmcp_active_sessions",
				Help: "Current number of registered sessions",
			},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cdsmcp_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"tool", "status"},
		),
		requestsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdsmcp_requests_rejected_total",
				Help: "Total number of HTTP requests rejected before reaching a session",
			},
			[]string{"reason"},
		),
		catalogBuilds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cdsmcp_catalog_builds_total",
				Help: "Total number of capability catalog builds",
			},
			[]string{"status"},
		),
		catalogEntries: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cdsmcp_catalog_entries",
				Help: "Number of entries in the active capability catalog",
			},
			[]string{"kind"},
		),
	}
}

func (p *PrometheusMetrics) ObserveSessionCreated() {
	p.sessionsCreated.Inc()
}

func (p *PrometheusMetrics) ObserveSessionClosed(reason domain.SessionCloseReason) {
	p.sessionsClosed.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusMetrics) SetActiveSessions(count int) {
	p.activeSessions.Set(float64(count))
}

func (p *PrometheusMetrics) ObserveToolCall(tool string, duration time.Duration, err error) {
	p.toolDuration.WithLabelValues(tool, status(err)).Observe(duration.Seconds())
}

func (p *PrometheusMetrics) ObserveRequestRejected(reason string) {
	p.requestsRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusMetrics) ObserveCatalogBuild(summary domain.CatalogSummary, err error) {
	p.catalogBuilds.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	p.catalogEntries.WithLabelValues("tools").Set(float64(summary.Tools))
	p.catalogEntries.WithLabelValues("resources").Set(float64(summary.Resources))
	p.catalogEntries.WithLabelValues("prompts").Set(float64(summary.Prompts))
	p.catalogEntries.WithLabelValues("diagnostics").Set(float64(summary.Diagnostics))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
