// Package domain defines the core interfaces and types for the eligibility engine.
package domain

import (
	"encoding/json"
	"time"
)

// RuleSet is a named family of versioned eligibility rules,
// e.g. one per visa category. The ID is stable for the life of the family.
type RuleSet struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RuleVersion is one temporally-scoped snapshot of requirements for a RuleSet.
// Once published a version is immutable; changes require a new version.
//
// Among published versions of the same RuleSet, effective ranges must not
// overlap. Publishing enforces this via conflict detection (see engine package).
type RuleVersion struct {
	ID        string `json:"id"`
	RuleSetID string `json:"ruleSetId"`

	// EffectiveFrom is inclusive. EffectiveTo is inclusive and nil means
	// open-ended (effective indefinitely).
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`

	Published bool `json:"published"`

	// MonotonicVersion is incremented on every mutation and used for
	// optimistic concurrency on writes. It plays no role in temporal
	// resolution.
	MonotonicVersion int64 `json:"monotonicVersion"`

	Requirements []Requirement `json:"requirements"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Requirement is one declarative logic expression plus a mandatory flag.
// The expression is a nested JSON structure of operators and operands; it is
// parsed and validated by the expr package before evaluation.
type Requirement struct {
	ID         string          `json:"id"`
	Label      string          `json:"label"`
	Mandatory  bool            `json:"mandatory"`
	Expression json.RawMessage `json:"expression"`
}

// Active reports whether the version covers the given date.
func (v *RuleVersion) Active(asOf time.Time) bool {
	if !v.Published {
		return false
	}
	if asOf.Before(v.EffectiveFrom) {
		return false
	}
	if v.EffectiveTo != nil && asOf.After(*v.EffectiveTo) {
		return false
	}
	return true
}

// ConflictKind classifies the relation between two effective-date ranges.
type ConflictKind string

const (
	ConflictNone        ConflictKind = "no_conflict"
	ConflictOverlap     ConflictKind = "overlap"
	ConflictContains    ConflictKind = "contains"
	ConflictContainedBy ConflictKind = "contained_by"
)

// Conflict reports an effective-range collision with a published version.
type Conflict struct {
	VersionID     string       `json:"versionId"`
	Kind          ConflictKind `json:"kind"`
	EffectiveFrom time.Time    `json:"effectiveFrom"`
	EffectiveTo   *time.Time   `json:"effectiveTo,omitempty"`
}

// DateRange is a sub-range of dates not covered by any published version.
// A nil To means the range is open-ended.
type DateRange struct {
	From time.Time  `json:"from"`
	To   *time.Time `json:"to,omitempty"`
}
