package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/facts"
	"github.com/Border-Link/immigration-ai-sub001/internal/metrics"
)

var tracer = otel.Tracer("eligibility-engine")

// VersionProvider supplies the applicable rule version for a rule set and
// date. The orchestration layer may back it with a read-through cache; the
// engine itself stays cache-agnostic and only consumes resolved data.
type VersionProvider interface {
	Resolve(ctx context.Context, ruleSetID string, asOf time.Time) (*domain.RuleVersion, []string, error)
}

// FactProvider supplies the full fact history of a case. Most-recent-per-key
// resolution happens inside the engine, not in the provider.
type FactProvider interface {
	CurrentFacts(ctx context.Context, caseID string) ([]*domain.Fact, error)
}

// FactProviderFunc adapts a function to the FactProvider interface, typically
// a repository's ListFacts method.
type FactProviderFunc func(ctx context.Context, caseID string) ([]*domain.Fact, error)

func (f FactProviderFunc) CurrentFacts(ctx context.Context, caseID string) ([]*domain.Fact, error) {
	return f(ctx, caseID)
}

// Engine runs the evaluation pipeline:
// resolve version → normalize facts → evaluate requirements → aggregate →
// fuse with the AI verdict. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	versions  VersionProvider
	facts     FactProvider
	reasoning domain.ReasoningProvider // nil disables the AI path
	cfg       domain.EngineConfig
	metrics   *metrics.EngineMetrics // nil-safe
}

// New creates an evaluation engine.
func New(versions VersionProvider, factProvider FactProvider, reasoning domain.ReasoningProvider, cfg domain.EngineConfig, m *metrics.EngineMetrics) *Engine {
	if cfg == (domain.EngineConfig{}) {
		cfg = domain.DefaultEngineConfig()
	}
	return &Engine{
		versions:  versions,
		facts:     factProvider,
		reasoning: reasoning,
		cfg:       cfg,
		metrics:   m,
	}
}

// Config returns the decision-policy constants in effect.
func (e *Engine) Config() domain.EngineConfig {
	return e.cfg
}

// EvaluateCase produces a new immutable CombinedResult for one case against
// one rule set as of the given date. Persistence and event publication belong
// to the caller.
//
// The only error returned is a fatal resolution or load failure; callers
// decide whether that blocks the request or degrades to a review result via
// DegradedResult.
func (e *Engine) EvaluateCase(ctx context.Context, caseID, ruleSetID string, asOf time.Time) (*domain.CombinedResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "engine.EvaluateCase")
	span.SetAttributes(
		attribute.String("case.id", caseID),
		attribute.String("ruleset.id", ruleSetID),
		attribute.String("as_of", asOf.Format("2006-01-02")),
	)
	defer span.End()

	version, warnings, err := e.versions.Resolve(ctx, ruleSetID, asOf)
	if err != nil {
		return nil, err
	}

	rawFacts, err := e.facts.CurrentFacts(ctx, caseID)
	if err != nil {
		return nil, err
	}
	normalized := facts.Normalize(rawFacts)

	outcomes := EvaluateRequirements(version.Requirements, normalized)
	aggregate := Aggregate(outcomes, e.cfg)
	aggregate.Warnings = append(warnings, aggregate.Warnings...)

	verdict := e.aiVerdict(ctx, caseID, ruleSetID)

	result := Combine(aggregate, verdict, e.cfg)
	result.ID = uuid.New().String()
	result.CaseID = caseID
	result.RuleSetID = ruleSetID
	result.RuleVersionID = version.ID
	result.EvaluatedAt = time.Now().UTC()

	e.metrics.RecordEvaluation(&result, time.Since(start))

	slog.Debug("case evaluated",
		"case_id", caseID,
		"rule_set_id", ruleSetID,
		"rule_version_id", version.ID,
		"outcome", result.Outcome,
		"confidence", result.Confidence,
		"conflict", result.ConflictDetected,
		"requires_review", result.RequiresReview,
	)

	return &result, nil
}

// aiVerdict calls the reasoning service, substituting the neutral fallback
// for any failure so the combiner never sees an exception from the AI path.
func (e *Engine) aiVerdict(ctx context.Context, caseID, ruleSetID string) domain.AIVerdict {
	if e.reasoning == nil {
		return domain.FallbackVerdict("reasoning service not configured")
	}

	verdict, err := e.reasoning.Evaluate(ctx, caseID, ruleSetID)
	if err != nil || verdict == nil {
		slog.Warn("reasoning service unavailable; using fallback verdict",
			"case_id", caseID,
			"error", err,
		)
		return domain.FallbackVerdict("reasoning service unavailable")
	}
	return *verdict
}

// DegradedResult builds the review-only result surfaced when no rule version
// covers the evaluation date: a fatal resolution error never reaches the
// caller's boundary as a raw failure.
func DegradedResult(caseID, ruleSetID, reason string) *domain.CombinedResult {
	return &domain.CombinedResult{
		ID:             uuid.New().String(),
		CaseID:         caseID,
		RuleSetID:      ruleSetID,
		Outcome:        domain.OutcomeRequiresReview,
		Confidence:     0.0,
		RequiresReview: true,
		Rule: domain.AggregateResult{
			Outcome:    domain.OutcomeRequiresReview,
			Confidence: 0.0,
			Warnings:   []string{reason},
		},
		AI:          domain.FallbackVerdict(reason),
		EvaluatedAt: time.Now().UTC(),
	}
}
