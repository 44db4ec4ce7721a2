// Package facts normalizes raw case facts into canonical values for
// expression evaluation.
package facts

import (
	"strconv"
	"strings"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// Normalize flattens an append-only fact history into one canonical value per
// key. Only the most recently created fact per key is current; ties on the
// creation timestamp are broken by insertion order, later wins.
//
// Coercion: numeric-looking strings become numbers, canonical boolean strings
// become booleans, integers widen to float64. Null values stay absent; they
// are never coerced to a default. Un-coercible values pass through raw so
// that any failure is deferred to evaluation time, where it becomes a
// classified error on the requirement that actually references the key.
func Normalize(raw []*domain.Fact) map[string]any {
	current := make(map[string]*domain.Fact, len(raw))
	for _, f := range raw {
		if f == nil || f.Key == "" {
			continue
		}
		prev, ok := current[f.Key]
		if !ok || !f.CreatedAt.Before(prev.CreatedAt) {
			current[f.Key] = f
		}
	}

	normalized := make(map[string]any, len(current))
	for key, f := range current {
		val, ok := Canonical(f.Value)
		if !ok {
			continue // null stays absent
		}
		normalized[key] = val
	}
	return normalized
}

// Canonical coerces a single raw value into its canonical evaluation type.
// The second return is false when the value is null and the key should be
// treated as absent.
func Canonical(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case bool:
		return t, true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		return canonicalString(t), true
	default:
		// Unknown shape: pass through, evaluation classifies it.
		return v, true
	}
}

func canonicalString(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}

	if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return n
	}

	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}

	return s
}
