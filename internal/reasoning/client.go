// Package reasoning provides the HTTP client for the external AI reasoning
// service. The service owns the probabilistic verdict; this client only moves
// the request across the wire and validates the response shape.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

const defaultTimeout = 30 * time.Second

// Client implements domain.ReasoningProvider against an HTTP endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// evaluateRequest is the wire format sent to the reasoning service.
type evaluateRequest struct {
	CaseID    string `json:"caseId"`
	RuleSetID string `json:"ruleSetId"`
}

// NewClient creates a reasoning client. Returns nil if no endpoint is
// configured; callers treat a nil provider as "reasoning disabled".
func NewClient(cfg domain.ReasoningConfig) *Client {
	if cfg.Endpoint == "" {
		return nil
	}

	timeout := defaultTimeout
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}

	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Evaluate requests an AI verdict for the case. Transport failures, non-2xx
// responses, and malformed bodies all surface as errors; the caller maps them
// to the neutral fallback verdict.
func (c *Client) Evaluate(ctx context.Context, caseID, ruleSetID string) (*domain.AIVerdict, error) {
	body, err := json.Marshal(evaluateRequest{CaseID: caseID, RuleSetID: ruleSetID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reasoning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build reasoning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body for the error message, then discard.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode, snippet)
	}

	var verdict domain.AIVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode reasoning response: %w", err)
	}

	switch verdict.Outcome {
	case domain.OutcomeEligible, domain.OutcomeNotEligible, domain.OutcomeRequiresReview:
	default:
		return nil, fmt.Errorf("reasoning service returned unknown outcome %q", verdict.Outcome)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return nil, fmt.Errorf("reasoning service returned confidence %v outside [0,1]", verdict.Confidence)
	}

	return &verdict, nil
}
