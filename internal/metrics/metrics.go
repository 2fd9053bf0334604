// Package metrics exposes the bridge's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dmsbridge"

// Metrics holds every instrument registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	WebhooksReceived *prometheus.CounterVec   // outcome
	MessagesStored   *prometheus.CounterVec   // type
	Duplicates       prometheus.Counter
	Unresolved       prometheus.Counter
	DeliveryUpdates  *prometheus.CounterVec   // status
	OutboundSends    *prometheus.CounterVec   // result
	OutboundDuration prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec   // route, code
	HTTPDuration     *prometheus.HistogramVec // route
}

// New builds a registry with the bridge instruments plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	start := time.Now()

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since start in seconds.",
	}, func() float64 { return time.Since(start).Seconds() })

	return &Metrics{
		registry: reg,
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Webhook calls by outcome.",
		}, []string{"outcome"}),
		MessagesStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_stored_total",
			Help:      "Inbound messages appended to the store, by type.",
		}, []string{"type"}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_duplicates_total",
			Help:      "Re-delivered inbound messages that were ignored.",
		}),
		Unresolved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_unresolved_identity_total",
			Help:      "Inbound messages stored without a customer id.",
		}),
		DeliveryUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_status_updates_total",
			Help:      "Outbound delivery status transitions, by new status.",
		}, []string{"status"}),
		OutboundSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_sends_total",
			Help:      "Outbound sends to the DMS, by result.",
		}, []string{"result"}),
		OutboundDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_send_duration_seconds",
			Help:      "Duration of outbound sends to the DMS.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route pattern and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Registry returns the underlying registry, for registering extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler renders the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSend records one outbound send.
func (m *Metrics) ObserveSend(result string, d time.Duration) {
	m.OutboundSends.WithLabelValues(result).Inc()
	m.OutboundDuration.Observe(d.Seconds())
}

// GaugeFunc registers a gauge backed by fn, e.g. the current store size.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn)
}
