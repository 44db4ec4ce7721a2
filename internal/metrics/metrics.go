// Package metrics exposes Prometheus instrumentation for the eligibility
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// EngineMetrics tracks evaluation pipeline activity.
//
// Metrics:
//   - <ns>_evaluations_total: evaluations by final outcome
//   - <ns>_evaluation_duration_seconds: end-to-end pipeline duration
//   - <ns>_requirement_outcomes_total: per-requirement statuses
//   - <ns>_conflicts_total: rule-vs-AI verdict conflicts
//   - <ns>_escalations_total: decisions auto-escalated to human review
type EngineMetrics struct {
	evaluationsTotal    *prometheus.CounterVec
	evaluationDuration  prometheus.Histogram
	requirementOutcomes *prometheus.CounterVec
	conflictsTotal      prometheus.Counter
	escalationsTotal    prometheus.Counter
}

// NewEngineMetrics creates and registers engine metrics with the registry.
func NewEngineMetrics(cfg domain.MetricsConfig, registry *prometheus.Registry) *EngineMetrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "eligibility"
	}

	m := &EngineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "evaluations_total",
				Help:      "Total number of case evaluations by final outcome",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end evaluation pipeline duration in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
		),
		requirementOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "requirement_outcomes_total",
				Help:      "Total number of requirement evaluations by status",
			},
			[]string{"status"},
		),
		conflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "conflicts_total",
				Help:      "Total number of rule-vs-AI verdict conflicts",
			},
		),
		escalationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "escalations_total",
				Help:      "Total number of decisions escalated to human review",
			},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.requirementOutcomes,
		m.conflictsTotal,
		m.escalationsTotal,
	)

	return m
}

// RecordEvaluation records one completed pipeline run. Nil receivers are
// no-ops so metrics stay optional in tests.
func (m *EngineMetrics) RecordEvaluation(result *domain.CombinedResult, duration time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(string(result.Outcome)).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
	if result.ConflictDetected {
		m.conflictsTotal.Inc()
	}
	if result.RequiresReview {
		m.escalationsTotal.Inc()
	}
	for _, req := range result.Rule.Requirements {
		m.requirementOutcomes.WithLabelValues(string(req.Status)).Inc()
	}
}
