package engine

import (
	"sort"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// Classify relates two effective-date ranges. A nil end is treated as
// +infinity. Both bounds are inclusive.
//
// The relation is symmetric: Classify(a, b) and Classify(b, a) report inverse
// kinds, with contains/contained_by as mutual inverses and identical ranges
// classified as overlap in both directions.
func Classify(aFrom time.Time, aTo *time.Time, bFrom time.Time, bTo *time.Time) domain.ConflictKind {
	aEnd, aOpen := rangeEnd(aTo)
	bEnd, bOpen := rangeEnd(bTo)

	// Disjoint ranges.
	if !aOpen && aEnd.Before(bFrom) {
		return domain.ConflictNone
	}
	if !bOpen && bEnd.Before(aFrom) {
		return domain.ConflictNone
	}

	sameStart := aFrom.Equal(bFrom)
	sameEnd := (aOpen && bOpen) || (!aOpen && !bOpen && aEnd.Equal(bEnd))
	if sameStart && sameEnd {
		return domain.ConflictOverlap
	}

	if covers(aFrom, aEnd, aOpen, bFrom, bEnd, bOpen) {
		return domain.ConflictContains
	}
	if covers(bFrom, bEnd, bOpen, aFrom, aEnd, aOpen) {
		return domain.ConflictContainedBy
	}
	return domain.ConflictOverlap
}

func rangeEnd(to *time.Time) (end time.Time, open bool) {
	if to == nil {
		return time.Time{}, true
	}
	return *to, false
}

// covers reports whether range a fully contains range b.
func covers(aFrom time.Time, aEnd time.Time, aOpen bool, bFrom time.Time, bEnd time.Time, bOpen bool) bool {
	if aFrom.After(bFrom) {
		return false
	}
	if aOpen {
		return true
	}
	if bOpen {
		return false
	}
	return !aEnd.Before(bEnd)
}

// DetectConflicts classifies a candidate effective range against every
// published version of the rule set, skipping the candidate itself when it is
// already stored. Any non-empty result blocks publishing: this is the
// authoring-time mechanism that keeps the resolver's "exactly one candidate"
// invariant true in steady state.
func DetectConflicts(published []*domain.RuleVersion, from time.Time, to *time.Time, excludeVersionID string) []domain.Conflict {
	var conflicts []domain.Conflict
	for _, v := range published {
		if v == nil || !v.Published || v.ID == excludeVersionID {
			continue
		}
		kind := Classify(from, to, v.EffectiveFrom, v.EffectiveTo)
		if kind == domain.ConflictNone {
			continue
		}
		conflicts = append(conflicts, domain.Conflict{
			VersionID:     v.ID,
			Kind:          kind,
			EffectiveFrom: v.EffectiveFrom,
			EffectiveTo:   v.EffectiveTo,
		})
	}
	return conflicts
}

// GapAnalysis returns the date sub-ranges between the earliest published
// effective date and +infinity that no published version covers. It is a
// read-only authoring-time completeness check and plays no part in
// evaluation.
//
// Ranges are reported at day granularity: coverage through an inclusive end
// date means the gap starts the following day.
func GapAnalysis(versions []*domain.RuleVersion) []domain.DateRange {
	var published []*domain.RuleVersion
	for _, v := range versions {
		if v != nil && v.Published {
			published = append(published, v)
		}
	}
	if len(published) == 0 {
		return nil
	}

	sort.Slice(published, func(i, j int) bool {
		return published[i].EffectiveFrom.Before(published[j].EffectiveFrom)
	})

	var gaps []domain.DateRange

	// coveredTo is the inclusive end of the merged coverage so far;
	// nil means coverage is already open-ended.
	coveredTo := published[0].EffectiveTo
	for _, v := range published[1:] {
		if coveredTo == nil {
			break
		}
		nextCovered := coveredTo.AddDate(0, 0, 1)
		if v.EffectiveFrom.After(nextCovered) {
			gapEnd := v.EffectiveFrom.AddDate(0, 0, -1)
			gaps = append(gaps, domain.DateRange{From: nextCovered, To: &gapEnd})
		}
		if v.EffectiveTo == nil {
			coveredTo = nil
		} else if v.EffectiveTo.After(*coveredTo) {
			coveredTo = v.EffectiveTo
		}
	}

	// Trailing open-ended gap when the last coverage ends on a finite date.
	if coveredTo != nil {
		gaps = append(gaps, domain.DateRange{From: coveredTo.AddDate(0, 0, 1)})
	}

	return gaps
}
