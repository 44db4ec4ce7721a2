package engine

import "github.com/Border-Link/immigration-ai-sub001/internal/domain"

// restrictiveness orders outcomes for conservative resolution: the more
// restrictive outcome always wins a disagreement.
var restrictiveness = map[domain.Outcome]int{
	domain.OutcomeNotEligible:    0,
	domain.OutcomeRequiresReview: 1,
	domain.OutcomeEligible:       2,
}

// Combine fuses the deterministic rule verdict with the probabilistic AI
// verdict into one decision. It never mutates its inputs and is deterministic
// for identical (aggregate, ai) pairs.
//
// A conflict is a disagreement at the coarse eligible/not_eligible level; a
// requires_review on either side is a neutral signal, not a conflict. On
// conflict the final confidence is the lower of the two, never an average
// that would hide the disagreement; when the sources agree confidences blend
// by configured weight.
func Combine(aggregate domain.AggregateResult, ai domain.AIVerdict, cfg domain.EngineConfig) domain.CombinedResult {
	ruleOutcome := aggregate.Outcome
	aiOutcome := ai.Outcome
	if _, known := restrictiveness[aiOutcome]; !known {
		// Unknown labels from the external service are neutral.
		aiOutcome = domain.OutcomeRequiresReview
	}

	conflict := (ruleOutcome == domain.OutcomeEligible && aiOutcome == domain.OutcomeNotEligible) ||
		(ruleOutcome == domain.OutcomeNotEligible && aiOutcome == domain.OutcomeEligible)

	// Conservative resolution: never auto-grant eligibility when any source
	// disputes it.
	final := ruleOutcome
	if restrictiveness[aiOutcome] < restrictiveness[final] {
		final = aiOutcome
	}

	var confidence float64
	if conflict {
		confidence = min(aggregate.Confidence, ai.Confidence)
	} else {
		total := cfg.RuleWeight + cfg.AIWeight
		confidence = (aggregate.Confidence*cfg.RuleWeight + ai.Confidence*cfg.AIWeight) / total
	}
	confidence = clamp01(confidence)

	// Independent escalation triggers; any one suffices. A final outcome of
	// requires_review escalates by definition.
	requiresReview := confidence < cfg.ConfidenceFloor ||
		conflict ||
		len(aggregate.MandatoryGaps) > 0 ||
		final == domain.OutcomeRequiresReview

	return domain.CombinedResult{
		Outcome:          final,
		Confidence:       confidence,
		ConflictDetected: conflict,
		RequiresReview:   requiresReview,
		Rule:             aggregate,
		AI:               ai,
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
