package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name when none is configured.
const DefaultNamespace = "graylogic"

// Command results used as the "result" label.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultBusy     = "busy"
	ResultFailed   = "failed"
)

// Metrics owns a private Prometheus registry and the inline counters.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequests counts API requests by route pattern, method and status.
	HTTPRequests *prometheus.CounterVec

	// Commands counts executed commands by device, operation and result.
	Commands *prometheus.CounterVec

	// WebSocketClients is the number of connected status-stream clients.
	WebSocketClients prometheus.Gauge
}

// New creates the metric set. namespace may be empty.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total API requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands dispatched to devices by operation and result.",
			},
			[]string{"device_id", "operation", "result"},
		),
		WebSocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected status stream clients.",
		}),
	}

	m.registry.MustRegister(
		m.HTTPRequests,
		m.Commands,
		m.WebSocketClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RegisterSource adds a scrape-time collector reading from src.
func (m *Metrics) RegisterSource(namespace string, src Source) error {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return m.registry.Register(newStatsCollector(namespace, src))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
