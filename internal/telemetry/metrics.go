// Package telemetry exposes Prometheus collectors for tuning runs.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nestedcv"

// Metrics groups the collectors updated by the optimizer driver, the
// cross-validation wrapper and the server. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	evaluations       *prometheus.CounterVec
	evaluationSeconds prometheus.Histogram
	foldSeconds       prometheus.Histogram
	bestScore         prometheus.Gauge
	jobs              *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Objective evaluations by search-space branch and outcome.",
		}, []string{"branch", "outcome"}),
		evaluationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of one objective evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		foldSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fold_duration_seconds",
			Help:      "Wall time of scoring one cross-validation fold.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
		bestScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "best_score",
			Help:      "Best score of the most recently finished optimizer run.",
		}),
		jobs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Tuning jobs by state.",
		}, []string{"state"}),
	}
}

// ObserveEvaluation records one objective call.
func (m *Metrics) ObserveEvaluation(branch string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "dropped"
	}
	m.evaluations.WithLabelValues(branch, outcome).Inc()
	m.evaluationSeconds.Observe(d.Seconds())
}

// ObserveFold records the scoring time of one fold.
func (m *Metrics) ObserveFold(d time.Duration) {
	if m == nil {
		return
	}
	m.foldSeconds.Observe(d.Seconds())
}

// SetBestScore records the best score of a finished run.
func (m *Metrics) SetBestScore(score float64) {
	if m == nil {
		return
	}
	m.bestScore.Set(score)
}

// JobTransition moves one job from state from to state to. An empty from
// only increments to.
func (m *Metrics) JobTransition(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.jobs.WithLabelValues(from).Dec()
	}
	if to != "" {
		m.jobs.WithLabelValues(to).Inc()
	}
}
