// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "geotap"

// Metrics groups the service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	roundsCompleted    *prometheus.CounterVec
	answersScored      *prometheus.CounterVec
	persistFailures    *prometheus.CounterVec
	remoteSyncFailures *prometheus.CounterVec
	answerDistance     prometheus.Histogram
	activeRounds       prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		roundsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_completed_total",
			Help:      "Rounds that reached a terminal phase.",
		}, []string{"mode", "outcome"}),
		answersScored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_scored_total",
			Help:      "Scored answers by how they were submitted.",
		}, []string{"mode", "source"}),
		persistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Swallowed score store failures.",
		}, []string{"op"}),
		remoteSyncFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_sync_failures_total",
			Help:      "Swallowed remote publish failures.",
		}, []string{"target"}),
		answerDistance: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_distance_km",
			Help:      "Distance of each scored answer.",
			Buckets:   []float64{0, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}),
		activeRounds: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rounds",
			Help:      "Rounds currently in progress.",
		}),
	}
}

// AnswerScored records one revealed answer.
func (m *Metrics) AnswerScored(mode, source string, km int) {
	if m == nil {
		return
	}
	m.answersScored.WithLabelValues(mode, source).Inc()
	m.answerDistance.Observe(float64(km))
}

// RoundStarted increments the active round gauge.
func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.activeRounds.Inc()
}

// RoundEnded records a terminal phase and decrements the active gauge.
func (m *Metrics) RoundEnded(mode, outcome string) {
	if m == nil {
		return
	}
	m.activeRounds.Dec()
	m.roundsCompleted.WithLabelValues(mode, outcome).Inc()
}

// PersistFailure counts a swallowed store failure.
func (m *Metrics) PersistFailure(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

// RemoteSyncFailure counts a swallowed publish failure.
func (m *Metrics) RemoteSyncFailure(target string) {
	if m == nil {
		return
	}
	m.remoteSyncFailures.WithLabelValues(target).Inc()
}
