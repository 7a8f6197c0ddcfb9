// Package metrics records credential lookup activity with Prometheus.
//
// Metrics are registered lazily on the default registry the first time Init
// is called. Recording before Init is a no-op, so library callers that never
// enable metrics pay nothing.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for credential requests
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomePublic   = "public"
	OutcomeStale    = "stale"
	OutcomeError    = "error"
)

var (
	sessionsStartedTotal *prometheus.CounterVec
	sessionsFailedTotal  *prometheus.CounterVec
	sessionDuration      *prometheus.HistogramVec

	credentialRequestsTotal *prometheus.CounterVec
	retriesTotal            *prometheus.CounterVec
	probeResultsTotal       *prometheus.CounterVec

	metricsOnce       sync.Once
	metricsRegistered atomic.Bool
)

// Recorder records credential metrics.
type Recorder struct{}

// NewRecorder returns a Recorder. Call Init to make it record anything.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Init registers all metrics.
func Init() {
	metricsOnce.Do(func() {
		sessionsStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcred_sessions_started_total",
				Help: "Total number of provider sessions opened",
			},
			[]string{"provider"},
		)

		sessionsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcred_sessions_failed_total",
				Help: "Total number of provider sessions that failed to open",
			},
			[]string{"provider"},
		)

		sessionDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedcred_session_duration_seconds",
				Help:    "Time from opening a provider session to closing it",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"provider"},
		)

		credentialRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcred_credential_requests_total",
				Help: "Total number of credential lookups by outcome",
			},
			[]string{"provider", "outcome"},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcred_stale_retries_total",
				Help: "Total number of lookups retried because the first credential was rejected",
			},
			[]string{"provider"},
		)

		probeResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcred_probe_results_total",
				Help: "Total number of feed probes by authentication mode and result",
			},
			[]string{"mode", "authenticated"},
		)

		metricsRegistered.Store(true)
	})
}

// IsRegistered reports whether Init has run.
func IsRegistered() bool {
	return metricsRegistered.Load()
}

// RecordSessionStarted records an opened session.
func (r *Recorder) RecordSessionStarted(provider string) {
	if !metricsRegistered.Load() {
		return
	}
	sessionsStartedTotal.WithLabelValues(provider).Inc()
}

// RecordSessionFailed records a session that could not be opened.
func (r *Recorder) RecordSessionFailed(provider string) {
	if !metricsRegistered.Load() {
		return
	}
	sessionsFailedTotal.WithLabelValues(provider).Inc()
}

// RecordSessionClosed records how long a session was open.
func (r *Recorder) RecordSessionClosed(provider string, durationSeconds float64) {
	if !metricsRegistered.Load() {
		return
	}
	sessionDuration.WithLabelValues(provider).Observe(durationSeconds)
}

// RecordRequest records the outcome of a credential lookup.
func (r *Recorder) RecordRequest(provider, outcome string) {
	if !metricsRegistered.Load() {
		return
	}
	credentialRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordRetry records a staleness retry.
func (r *Recorder) RecordRetry(provider string) {
	if !metricsRegistered.Load() {
		return
	}
	retriesTotal.WithLabelValues(provider).Inc()
}

// RecordProbe records a probe result. mode is "anonymous" or "credential".
func (r *Recorder) RecordProbe(mode string, authenticated bool) {
	if !metricsRegistered.Load() {
		return
	}
	probeResultsTotal.WithLabelValues(mode, fmt.Sprintf("%t", authenticated)).Inc()
}

// WriteTextfile writes the default registry in text exposition format,
// for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// CredentialRequests returns the request counter for testing.
func CredentialRequests() *prometheus.CounterVec {
	return credentialRequestsTotal
}

// Retries returns the retry counter for testing.
func Retries() *prometheus.CounterVec {
	return retriesTotal
}

// ProbeResults returns the probe counter for testing.
func ProbeResults() *prometheus.CounterVec {
	return probeResultsTotal
}
