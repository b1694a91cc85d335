// Package metrics owns the Prometheus registry for the generator
package metrics

import (
	"net/http"

	"github.com/Shimmur/streamgen/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "streamgen"

// Reload results, used as the label on ConfigReloads
const (
	ReloadChanged   = "changed"
	ReloadUnchanged = "unchanged"
	ReloadFailed    = "failed"
)

type Metrics struct {
	ActiveSessions      prometheus.Gauge
	SessionsTotal       *prometheus.CounterVec
	ValuesEmitted       prometheus.Counter
	RejectedConnections prometheus.Counter
	SeedFallbacks       prometheus.Counter
	ConfigReloads       *prometheus.CounterVec
	SessionThroughput   prometheus.Histogram

	registry *prometheus.Registry
}

// New returns Metrics registered on a private registry, so tests can build
// as many as they like.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_sessions",
			Help:      "The current number of connections being streamed to",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_total",
			Help:      "Sessions started, by transport",
		}, []string{"transport"}),
		ValuesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "values_emitted_total",
			Help:      "Values written to clients by completed sessions",
		}),
		RejectedConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rejected_connections_total",
			Help:      "Connections refused by the admission limiter",
		}),
		SeedFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "seed_fallbacks_total",
			Help:      "Malformed client seeds replaced by the default seed",
		}),
		ConfigReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration polls, by result",
		}, []string{"result"}),
		SessionThroughput: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "session_throughput_values_per_second",
			Help:      "Achieved throughput of completed sessions",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
	}
}

// WatchCache exposes a cache's hit and miss counters
func (m *Metrics) WatchCache(provider StatsProvider) {
	m.registry.MustRegister(NewCacheCollector(Namespace, provider))
}

// SessionStarted records a session that has its profile and is about to
// emit.
func (m *Metrics) SessionStarted(profile *stream.Profile, transport string) {
	m.ActiveSessions.Inc()
	m.SessionsTotal.WithLabelValues(transport).Inc()
	if profile.Fallback {
		m.SeedFallbacks.Inc()
	}
}

// SessionClosed satisfies stream.Observer
func (m *Metrics) SessionClosed(profile *stream.Profile, stats stream.Stats) {
	m.ActiveSessions.Dec()
	m.ValuesEmitted.Add(float64(stats.Emitted))
	m.SessionThroughput.Observe(stats.Throughput())
}

func (m *Metrics) ConnectionRejected() {
	m.RejectedConnections.Inc()
}

func (m *Metrics) Reloaded(result string) {
	m.ConfigReloads.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
