package engine

import "github.com/Border-Link/immigration-ai-sub001/internal/domain"

// Aggregate combines per-requirement outcomes into one confidence score and
// deterministic verdict.
//
// Confidence is the fraction of evaluable requirements that passed;
// requirements with missing facts or errors are not evaluable. Both empty
// rule versions and fully-unevaluable fact sets fail closed to not_eligible
// with confidence 0.0, except that an incomplete mandatory check always
// forces requires_review: eligibility can never be certified, nor denied
// automatically, on a mandatory requirement that could not be checked.
func Aggregate(outcomes []domain.RequirementOutcome, cfg domain.EngineConfig) domain.AggregateResult {
	result := domain.AggregateResult{
		Total:        len(outcomes),
		Requirements: outcomes,
	}

	if result.Total == 0 {
		result.Outcome = domain.OutcomeNotEligible
		result.Confidence = 0.0
		result.Warnings = append(result.Warnings, "no requirements defined")
		return result
	}

	seenMissing := make(map[string]bool)
	seenMandatoryGap := make(map[string]bool)
	mandatoryFailed := false
	mandatoryIncomplete := false

	for _, o := range outcomes {
		switch o.Status {
		case domain.RequirementPassed:
			result.Passed++
		case domain.RequirementFailed:
			result.Failed++
			if o.Mandatory {
				mandatoryFailed = true
			}
		case domain.RequirementMissingFacts:
			result.Missing++
			if o.Mandatory {
				mandatoryIncomplete = true
			}
			for _, key := range o.MissingFacts {
				if !seenMissing[key] {
					seenMissing[key] = true
					result.MissingFacts = append(result.MissingFacts, key)
				}
				if o.Mandatory && !seenMandatoryGap[key] {
					seenMandatoryGap[key] = true
					result.MandatoryGaps = append(result.MandatoryGaps, key)
				}
			}
		case domain.RequirementError:
			result.Errored++
			if o.Mandatory {
				mandatoryIncomplete = true
			}
		}
	}

	evaluable := result.Passed + result.Failed
	if evaluable > 0 {
		result.Confidence = float64(result.Passed) / float64(evaluable)
	} else {
		result.Confidence = 0.0
		result.Warnings = append(result.Warnings, "no evaluable requirements")
	}

	switch {
	case mandatoryFailed:
		// Mandatory failures are absolute, regardless of confidence.
		result.Outcome = domain.OutcomeNotEligible

	case mandatoryIncomplete:
		// Cannot certify eligibility on an incomplete mandatory check,
		// even at high confidence.
		result.Outcome = domain.OutcomeRequiresReview

	case evaluable == 0:
		result.Outcome = domain.OutcomeNotEligible

	case result.Confidence >= cfg.EligibleThreshold:
		result.Outcome = domain.OutcomeEligible

	case result.Confidence <= cfg.NotEligibleThreshold:
		result.Outcome = domain.OutcomeNotEligible

	default:
		result.Outcome = domain.OutcomeRequiresReview
	}

	return result
}
