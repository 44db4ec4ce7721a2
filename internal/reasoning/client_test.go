package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

func TestClientEvaluate(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/evaluate" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			var req evaluateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
			if req.CaseID != "case-001" || req.RuleSetID != "rs-001" {
				t.Errorf("unexpected request: %+v", req)
			}

			json.NewEncoder(w).Encode(domain.AIVerdict{
				Outcome:    domain.OutcomeEligible,
				Confidence: 0.91,
				Reasoning:  "profile matches all published criteria",
				Citations:  []string{"para 245"},
			})
		}))
		defer srv.Close()

		client := NewClient(domain.ReasoningConfig{Endpoint: srv.URL, TimeoutSecs: 5})

		verdict, err := client.Evaluate(context.Background(), "case-001", "rs-001")
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if verdict.Outcome != domain.OutcomeEligible {
			t.Errorf("expected eligible, got %s", verdict.Outcome)
		}
		if verdict.Confidence != 0.91 {
			t.Errorf("expected confidence 0.91, got %v", verdict.Confidence)
		}
		if len(verdict.Citations) != 1 {
			t.Errorf("expected citations to round-trip, got %v", verdict.Citations)
		}
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		client := NewClient(domain.ReasoningConfig{Endpoint: srv.URL})

		_, err := client.Evaluate(context.Background(), "case-001", "rs-001")
		if err == nil {
			t.Error("expected error for 503 response")
		}
	})

	t.Run("UnknownOutcome", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"outcome": "maybe", "confidence": 0.5})
		}))
		defer srv.Close()

		client := NewClient(domain.ReasoningConfig{Endpoint: srv.URL})

		_, err := client.Evaluate(context.Background(), "case-001", "rs-001")
		if err == nil {
			t.Error("expected error for unknown outcome")
		}
	})

	t.Run("ConfidenceOutOfRange", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"outcome": "eligible", "confidence": 1.7})
		}))
		defer srv.Close()

		client := NewClient(domain.ReasoningConfig{Endpoint: srv.URL})

		_, err := client.Evaluate(context.Background(), "case-001", "rs-001")
		if err == nil {
			t.Error("expected error for confidence outside [0,1]")
		}
	})

	t.Run("DisabledWithoutEndpoint", func(t *testing.T) {
		if client := NewClient(domain.ReasoningConfig{}); client != nil {
			t.Error("expected nil client when no endpoint is configured")
		}
	})
}
