// Package metrics exposes Prometheus instruments for the presence engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "familychat"

// Metrics groups every instrument the engine records.
type Metrics struct {
	registry *prometheus.Registry

	SessionsOpen       prometheus.Gauge
	SessionsBound      prometheus.Gauge
	MessagesDelivered  *prometheus.CounterVec
	MessagesFailed     *prometheus.CounterVec
	PresenceRefreshes  *prometheus.CounterVec
	ResolverFailures   prometheus.Counter
	DomainErrors       *prometheus.CounterVec
	StoreAppendSeconds prometheus.Histogram
}

// New creates the instruments and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of open client sessions.",
		}),
		SessionsBound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_bound",
			Help:      "Number of sessions that declared an identity.",
		}),
		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages persisted and fanned out, by group.",
		}, []string{"group"}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_failed_total",
			Help:      "Messages rejected or not persisted, by reason.",
		}, []string{"reason"}),
		PresenceRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_refreshes_total",
			Help:      "Presence snapshots pushed, by group.",
		}, []string{"group"}),
		ResolverFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_resolver_failures_total",
			Help:      "Identity lookups that degraded to a missing avatar.",
		}),
		DomainErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "domain_errors_total",
			Help:      "Domain errors sent to clients, by inbound event.",
		}, []string{"event"}),
		StoreAppendSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_append_seconds",
			Help:      "Latency of message store appends.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	m.registry.MustRegister(
		m.SessionsOpen,
		m.SessionsBound,
		m.MessagesDelivered,
		m.MessagesFailed,
		m.PresenceRefreshes,
		m.ResolverFailures,
		m.DomainErrors,
		m.StoreAppendSeconds,
		collectors.NewGoCollector(),
	)

	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		Registry:          m.registry,
		EnableOpenMetrics: true,
	})
}
