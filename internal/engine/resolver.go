// Package engine implements the eligibility decision core: temporal rule
// version resolution, per-requirement expression evaluation, outcome
// aggregation, and fusion of the deterministic verdict with the AI verdict.
//
// Every function here is a pure function of its inputs; the package owns no
// persistent state and is safe for any number of concurrent evaluations.
package engine

import (
	"fmt"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// ResolveVersion selects the single published version whose effective range
// contains asOf.
//
// Zero candidates is a hard failure wrapping domain.ErrNoActiveRuleVersion.
// Multiple candidates should have been prevented at authoring time; a usable
// answer still exists, so the most recently created candidate wins and the
// anomaly is surfaced as a warning rather than a failure.
func ResolveVersion(versions []*domain.RuleVersion, asOf time.Time) (*domain.RuleVersion, []string, error) {
	var candidates []*domain.RuleVersion
	for _, v := range versions {
		if v != nil && v.Active(asOf) {
			candidates = append(candidates, v)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, nil, fmt.Errorf("%w: no published version covers %s",
			domain.ErrNoActiveRuleVersion, asOf.Format("2006-01-02"))

	case 1:
		return candidates[0], nil, nil

	default:
		// Latest creation time wins; ties fall to the later entry.
		selected := candidates[0]
		for _, c := range candidates[1:] {
			if !c.CreatedAt.Before(selected.CreatedAt) {
				selected = c
			}
		}
		warning := fmt.Sprintf(
			"%d published versions cover %s; selected most recently created %s",
			len(candidates), asOf.Format("2006-01-02"), selected.ID)
		return selected, []string{warning}, nil
	}
}
