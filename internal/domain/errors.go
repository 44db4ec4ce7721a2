package domain

import "errors"

// Sentinel errors for the failure modes that are fatal to producing a result.
// Per-requirement failures are RequirementOutcome values, never errors.
var (
	// ErrNoActiveRuleVersion means resolution found zero published versions
	// covering the evaluation date. The caller decides whether this blocks
	// the request or degrades it to a requires_review result.
	ErrNoActiveRuleVersion = errors.New("no active rule version")

	// ErrRuleVersionConflict blocks publishing a version whose effective
	// range collides with an already-published version of the same RuleSet.
	ErrRuleVersionConflict = errors.New("rule version conflict")

	// ErrOptimisticLock means a write observed a stale monotonic version.
	// The caller must re-fetch and retry.
	ErrOptimisticLock = errors.New("optimistic lock conflict")
)
