package domain

import "time"

// Outcome is a coarse eligibility verdict.
type Outcome string

const (
	OutcomeEligible       Outcome = "eligible"
	OutcomeNotEligible    Outcome = "not_eligible"
	OutcomeRequiresReview Outcome = "requires_review"
)

// RequirementStatus is the result of evaluating one requirement.
type RequirementStatus string

const (
	RequirementPassed       RequirementStatus = "passed"
	RequirementFailed       RequirementStatus = "failed"
	RequirementMissingFacts RequirementStatus = "missing_facts"
	RequirementError        RequirementStatus = "error"
)

// ErrorKind classifies why a requirement evaluation could not complete.
// These are values in the outcome, not Go error types: a malformed
// requirement must not abort scoring the others.
type ErrorKind string

const (
	ErrKindInvalidExpression ErrorKind = "invalid_expression"
	ErrKindDivisionByZero    ErrorKind = "division_by_zero"
	ErrKindTypeMismatch      ErrorKind = "type_mismatch"
	ErrKindNonFiniteResult   ErrorKind = "non_finite_result"
	ErrKindNullResult        ErrorKind = "null_result"
)

// RequirementOutcome is produced per (requirement, fact set).
type RequirementOutcome struct {
	RequirementID string            `json:"requirementId"`
	Label         string            `json:"label"`
	Mandatory     bool              `json:"mandatory"`
	Status        RequirementStatus `json:"status"`

	// Variables actually referenced by the expression, in order of first
	// reference.
	Variables []string `json:"variables,omitempty"`

	// MissingFacts lists referenced variables absent from the fact set.
	MissingFacts []string `json:"missingFacts,omitempty"`

	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// AggregateResult combines all requirement outcomes for one
// (rule version, fact set) pair into a deterministic verdict.
type AggregateResult struct {
	Outcome    Outcome `json:"outcome"`
	Confidence float64 `json:"confidence"` // always in [0.0, 1.0]

	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Missing int `json:"missing"`
	Errored int `json:"errored"`

	// MissingFacts is the deduplicated, order-preserving union of missing
	// keys across all requirements.
	MissingFacts []string `json:"missingFacts,omitempty"`

	// MandatoryGaps are the missing fact keys belonging to mandatory
	// requirements. A non-empty list forces human review downstream.
	MandatoryGaps []string `json:"mandatoryGaps,omitempty"`

	Warnings []string `json:"warnings,omitempty"`

	Requirements []RequirementOutcome `json:"requirements,omitempty"`
}

// AIVerdict is the probabilistic verdict supplied by the external reasoning
// service. It is opaque input to the combiner; this engine never inspects how
// it was produced.
type AIVerdict struct {
	Outcome    Outcome  `json:"outcome"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Citations  []string `json:"citations,omitempty"`
}

// FallbackVerdict is the neutral verdict substituted when the reasoning
// service fails. It never propagates as an error into the combiner.
func FallbackVerdict(reason string) AIVerdict {
	return AIVerdict{
		Outcome:    OutcomeRequiresReview,
		Confidence: 0.0,
		Reasoning:  reason,
	}
}

// CombinedResult is the final artifact of one evaluation request. It is
// created once and immutable thereafter; re-evaluating a case produces a new
// CombinedResult rather than mutating the old one.
type CombinedResult struct {
	ID            string `json:"id"`
	CaseID        string `json:"caseId"`
	RuleSetID     string `json:"ruleSetId"`
	RuleVersionID string `json:"ruleVersionId,omitempty"`

	Outcome    Outcome `json:"outcome"`
	Confidence float64 `json:"confidence"`

	// ConflictDetected is set when the rule and AI verdicts disagree at the
	// coarse eligible/not_eligible level.
	ConflictDetected bool `json:"conflictDetected"`

	// RequiresReview escalates the case to a human reviewer.
	RequiresReview bool `json:"requiresReview"`

	// Contributing verdicts, kept for audit.
	Rule AggregateResult `json:"rule"`
	AI   AIVerdict       `json:"ai"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}
