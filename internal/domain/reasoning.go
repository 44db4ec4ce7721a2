package domain

import "context"

// ReasoningProvider is the external AI-reasoning service. The engine consumes
// its output only; how the verdict is produced is out of scope here.
//
// Implementations may return an error for transport or decoding failures; the
// orchestration layer maps any error to FallbackVerdict rather than letting
// it reach the combiner.
type ReasoningProvider interface {
	Evaluate(ctx context.Context, caseID, ruleSetID string) (*AIVerdict, error)
}

// ReasoningConfig holds configuration for the reasoning service client.
type ReasoningConfig struct {
	// Endpoint is the base URL of the reasoning service. Empty disables the
	// client; the combiner then receives the neutral fallback verdict.
	Endpoint string `yaml:"endpoint"`

	// TimeoutSecs bounds a single reasoning call. The pure evaluation path
	// has no timeout of its own; this is the only slow external step.
	TimeoutSecs int `yaml:"timeoutSecs"`
}
