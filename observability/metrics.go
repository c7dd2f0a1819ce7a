package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_relay"

// Notification outcomes
const (
	OutcomeDelivered   = "delivered"
	OutcomeUnreachable = "unreachable"
	OutcomeFailed      = "failed"
)

// Metrics holds every collector of the process on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry          *prometheus.Registry
	connections       prometheus.Gauge
	online            prometheus.Gauge
	messagesPersisted prometheus.Counter
	statusTransitions *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	rateLimited       prometheus.Counter
	processRSS        prometheus.Gauge
	processCPU        prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_registered",
			Help: "Users with a registered connection.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "presence_online",
			Help: "Users in the online presence set.",
		}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_persisted_total",
			Help: "Private messages persisted.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_status_transitions_total",
			Help: "Persisted message status changes by target status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification fanout attempts by event and outcome.",
		}, []string{"event", "outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_rate_limited_total",
			Help: "Inbound events dropped by the per-connection rate limit.",
		}),
		processRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_rss_bytes",
			Help: "Resident memory sampled by the process stats worker.",
		}),
		processCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "process_cpu_percent",
			Help: "CPU usage sampled by the process stats worker.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.connections, m.online, m.messagesPersisted, m.statusTransitions,
		m.notifications, m.rateLimited, m.processRSS, m.processCPU,
	)
	return m
}

// Handler answers 404 when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.online.Set(float64(n))
}

func (m *Metrics) MessagePersisted() {
	if m == nil {
		return
	}
	m.messagesPersisted.Inc()
}

func (m *Metrics) StatusTransitions(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.statusTransitions.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) Notification(eventName, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(eventName, outcome).Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) SetProcessStats(rss uint64, cpuPercent float64) {
	if m == nil {
		return
	}
	m.processRSS.Set(float64(rss))
	m.processCPU.Set(cpuPercent)
}
