package engine

import (
	"strings"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/expr"
)

// EvaluateRequirement interprets one requirement against a normalized fact
// map, producing a classified outcome. It never returns an error: every
// failure mode is part of the outcome, so one malformed requirement cannot
// prevent scoring the others.
func EvaluateRequirement(req domain.Requirement, normalized map[string]any) domain.RequirementOutcome {
	outcome := domain.RequirementOutcome{
		RequirementID: req.ID,
		Label:         req.Label,
		Mandatory:     req.Mandatory,
	}

	// 1. Structural validation. A failure here short-circuits: evaluation
	// never proceeds against an invalid expression.
	vr := expr.Validate(req.Expression)
	outcome.Variables = vr.Variables
	if !vr.OK {
		outcome.Status = domain.RequirementError
		outcome.ErrorKind = domain.ErrKindInvalidExpression
		outcome.Reason = strings.Join(vr.Messages(), "; ")
		return outcome
	}

	// 2. Missing-fact check before any evaluation. Partial results from a
	// logic expression are not generally meaningful, so no partial
	// evaluation is attempted.
	var missing []string
	for _, name := range vr.Variables {
		if _, ok := normalized[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		outcome.Status = domain.RequirementMissingFacts
		outcome.MissingFacts = missing
		return outcome
	}

	// 3. Interpret the typed tree.
	passed, evalErr := expr.EvalBool(vr.Root, normalized)
	if evalErr != nil {
		outcome.Status = domain.RequirementError
		outcome.ErrorKind = evalErr.Kind
		outcome.Reason = evalErr.Message
		return outcome
	}

	if passed {
		outcome.Status = domain.RequirementPassed
	} else {
		outcome.Status = domain.RequirementFailed
	}
	return outcome
}

// EvaluateRequirements runs every requirement of a version in order. Order is
// preserved for deterministic aggregate output.
func EvaluateRequirements(reqs []domain.Requirement, normalized map[string]any) []domain.RequirementOutcome {
	outcomes := make([]domain.RequirementOutcome, len(reqs))
	for i, req := range reqs {
		outcomes[i] = EvaluateRequirement(req, normalized)
	}
	return outcomes
}
