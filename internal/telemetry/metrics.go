// Package telemetry holds the process-wide Prometheus registry with the
// ingest, sweep and delivery collectors, and the OpenTelemetry tracer setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/streampulse/internal/core"
)

const namespace = "streampulse"

// Metrics bundles the domain collectors. Every method is safe on a nil
// receiver so components can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	messages        *prometheus.CounterVec
	botDropped      *prometheus.CounterVec
	reconnects      *prometheus.CounterVec
	connectorErrors *prometheus.CounterVec
	connected       *prometheus.GaugeVec
	openSessions    prometheus.Gauge
	flushFailures   *prometheus.CounterVec
	dbWriteErrors   prometheus.Counter
	sweepRuns       prometheus.Counter
	sweepOutcomes   *prometheus.CounterVec
	reports         *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Classified chat messages emitted by connectors",
		}, []string{"platform"}),
		botDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_bot_messages_dropped_total",
			Help:      "Chat messages dropped by the bot deny-list",
		}, []string{"platform"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_reconnects_total",
			Help:      "Connector reconnect attempts",
		}, []string{"platform"}),
		connectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_errors_total",
			Help:      "Connector errors reported to OnError",
		}, []string{"platform"}),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_connected",
			Help:      "1 when the connector for a channel is connected",
		}, []string{"platform", "channel"}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Sessions with a running ingest pipeline",
		}),
		flushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_flush_failures_total",
			Help:      "Chatter or bucket upserts that failed during a flush",
		}, []string{"kind"}),
		dbWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_write_errors_total",
			Help:      "Message insert batches that failed",
		}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Recovery sweep passes",
		}),
		sweepOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_sessions_total",
			Help:      "Recovery sweep candidates by outcome",
		}, []string{"outcome"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Session finalizations by result",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_deliveries_total",
			Help:      "Report notifications by scheme and status",
		}, []string{"scheme", "status"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages,
		m.botDropped,
		m.reconnects,
		m.connectorErrors,
		m.connected,
		m.openSessions,
		m.flushFailures,
		m.dbWriteErrors,
		m.sweepRuns,
		m.sweepOutcomes,
		m.reports,
		m.deliveries,
	)
	return m
}

// Registry is where other packages register their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncMessages(p core.Platform) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) IncBotDropped(p core.Platform) {
	if m == nil {
		return
	}
	m.botDropped.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) IncReconnects(p core.Platform) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) IncErrors(p core.Platform) {
	if m == nil {
		return
	}
	m.connectorErrors.WithLabelValues(string(p)).Inc()
}

func (m *Metrics) SetConnected(p core.Platform, channel string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(string(p), channel).Set(v)
}

func (m *Metrics) AddOpenSessions(delta float64) {
	if m == nil {
		return
	}
	m.openSessions.Add(delta)
}

func (m *Metrics) AddFlushFailures(chatters, buckets int) {
	if m == nil {
		return
	}
	if chatters > 0 {
		m.flushFailures.WithLabelValues("chatter").Add(float64(chatters))
	}
	if buckets > 0 {
		m.flushFailures.WithLabelValues("bucket").Add(float64(buckets))
	}
}

func (m *Metrics) IncDBWriteErrors() {
	if m == nil {
		return
	}
	m.dbWriteErrors.Inc()
}

// ObserveSweep records one sweep pass.
func (m *Metrics) ObserveSweep(ended, skipped, reports, sent, errs int) {
	if m == nil {
		return
	}
	m.sweepRuns.Inc()
	m.sweepOutcomes.WithLabelValues("ended").Add(float64(ended))
	m.sweepOutcomes.WithLabelValues("skipped").Add(float64(skipped))
	m.sweepOutcomes.WithLabelValues("report_generated").Add(float64(reports))
	m.sweepOutcomes.WithLabelValues("report_sent").Add(float64(sent))
	m.sweepOutcomes.WithLabelValues("error").Add(float64(errs))
}

// IncReports counts one finalization by result: generated, skipped or error.
func (m *Metrics) IncReports(result string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDeliveries(scheme string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.deliveries.WithLabelValues(scheme, status).Inc()
}
