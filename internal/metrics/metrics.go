// Package metrics provides Prometheus instrumentation for the moderation
// engine. It exposes counters for decisions and remote classifier calls,
// histograms for classification latency and a gauge of active timeouts.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DecisionsTotal counts moderation decisions, labeled by kind:
	// "allow", "allow_masked", "warn", "mute", "terminate", "blocked".
	DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_moderation_decisions_total",
		Help: "Total number of moderation decisions",
	}, []string{"kind"})

	// ClassifyLatency records cascade latency in seconds by method.
	ClassifyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whisper_moderation_classify_seconds",
		Help:    "Classification latency in seconds",
		Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method"})

	// CascadeFastPath counts verdicts settled without the remote classifier.
	CascadeFastPath = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_moderation_fast_path_total",
		Help: "Verdicts settled by the lexical pass alone",
	}, []string{"path"}) // path = "toxic", "clean"

	// RemoteRequests counts remote classifier calls by outcome:
	// "ok", "rate_limited", "error", "breaker_open", "cached".
	RemoteRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_moderation_remote_requests_total",
		Help: "Remote classifier calls by outcome",
	}, []string{"outcome"})

	// ActiveTimeouts tracks mutes currently in force on this instance.
	ActiveTimeouts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_moderation_active_timeouts",
		Help: "Current number of active timeouts",
	})

	// PersistenceErrors counts fail-open storage errors by operation.
	PersistenceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_moderation_persistence_errors_total",
		Help: "Storage errors swallowed by fail-open paths",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(
		DecisionsTotal,
		ClassifyLatency,
		CascadeFastPath,
		RemoteRequests,
		ActiveTimeouts,
		PersistenceErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
