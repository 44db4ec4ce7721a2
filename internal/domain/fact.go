package domain

import "time"

// FactSource identifies who asserted a fact.
type FactSource string

const (
	FactSourceUser     FactSource = "user"
	FactSourceAI       FactSource = "ai"
	FactSourceReviewer FactSource = "reviewer"
)

// Fact is a single observed attribute of a case. Facts are append-only: a
// case may hold multiple facts for the same key, and only the most recently
// created one is "current". Older facts are history, not errors.
//
// Value is a JSON scalar: string, float64, bool, or nil.
type Fact struct {
	ID        string     `json:"id"`
	CaseID    string     `json:"caseId"`
	Key       string     `json:"key"`
	Value     any        `json:"value"`
	Source    FactSource `json:"source"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ValidSource reports whether s is a known fact source.
func ValidSource(s FactSource) bool {
	switch s {
	case FactSourceUser, FactSourceAI, FactSourceReviewer:
		return true
	}
	return false
}
