package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/bus"
	"github.com/Border-Link/immigration-ai-sub001/internal/cache"
	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
	"github.com/Border-Link/immigration-ai-sub001/internal/repository"
)

// createTestServer wires a server against a temporary SQLite database, an
// in-memory cache, and a channel bus. No reasoning service is configured, so
// the AI side of every decision is the neutral fallback.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "eligibility-api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store := cache.NewLRUCache(1000)
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	versions := cache.NewVersionCache(repo, store, time.Minute)
	eng := engine.New(versions, engine.FactProviderFunc(repo.ListFacts), nil, domain.DefaultEngineConfig(), nil)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, repo, store, eventBus, eng, nil, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

// seedRuleSet creates a rule set with one published version covering 2026 and
// returns the rule set ID.
func seedRuleSet(t *testing.T, server *Server) string {
	t.Helper()

	rr := doJSON(t, server, http.MethodPost, "/rulesets", RuleSetRequest{
		ID:   "rs-skilled-worker",
		Name: "Skilled Worker",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create rule set: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/rulesets/rs-skilled-worker/versions", VersionRequest{
		EffectiveFrom: "2026-01-01",
		EffectiveTo:   "2026-12-31",
		Requirements: []domain.Requirement{
			{
				ID:         "req-age",
				Label:      "Minimum age",
				Mandatory:  true,
				Expression: json.RawMessage(`{">=": [{"var": "age"}, 18]}`),
			},
			{
				ID:         "req-funds",
				Label:      "Sufficient funds",
				Mandatory:  false,
				Expression: json.RawMessage(`{">": [{"var": "savings"}, 10000]}`),
			},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create version: %d %s", rr.Code, rr.Body.String())
	}
	version := decode[domain.RuleVersion](t, rr)

	rr = doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/rulesets/rs-skilled-worker/versions/%s/publish", version.ID),
		PublishRequest{ExpectedVersion: version.MonotonicVersion})
	if rr.Code != http.StatusOK {
		t.Fatalf("failed to publish version: %d %s", rr.Code, rr.Body.String())
	}

	return "rs-skilled-worker"
}

func appendFact(t *testing.T, server *Server, caseID, key string, value any) {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/cases/"+caseID+"/facts", FactRequest{
		Key:    key,
		Value:  value,
		Source: domain.FactSourceUser,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to append fact %s: %d %s", key, rr.Code, rr.Body.String())
	}
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)
	ruleSetID := seedRuleSet(t, server)

	t.Run("AllRequirementsPass", func(t *testing.T) {
		appendFact(t, server, "case-pass", "age", 30)
		appendFact(t, server, "case-pass", "savings", 15000)

		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			CaseID:    "case-pass",
			RuleSetID: ruleSetID,
			AsOf:      "2026-06-15",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		result := decode[domain.CombinedResult](t, rr)
		if result.Rule.Outcome != domain.OutcomeEligible {
			t.Errorf("expected rule outcome eligible, got %s", result.Rule.Outcome)
		}
		if result.Rule.Passed != 2 {
			t.Errorf("expected 2 passed requirements, got %d", result.Rule.Passed)
		}
		// No reasoning service: AI side is the neutral fallback, which drags
		// the combined outcome to review.
		if result.AI.Outcome != domain.OutcomeRequiresReview {
			t.Errorf("expected fallback AI verdict, got %s", result.AI.Outcome)
		}
		if result.Outcome != domain.OutcomeRequiresReview {
			t.Errorf("expected combined requires_review, got %s", result.Outcome)
		}
		if result.ID == "" || result.CaseID != "case-pass" {
			t.Errorf("expected populated identifiers, got %+v", result)
		}

		// Decision is persisted and retrievable.
		getRR := doJSON(t, server, http.MethodGet, "/decisions/"+result.ID, nil)
		if getRR.Code != http.StatusOK {
			t.Errorf("expected persisted decision, got %d", getRR.Code)
		}
	})

	t.Run("MandatoryFailure", func(t *testing.T) {
		appendFact(t, server, "case-minor", "age", 16)
		appendFact(t, server, "case-minor", "savings", 50000)

		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			CaseID:    "case-minor",
			RuleSetID: ruleSetID,
			AsOf:      "2026-06-15",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		result := decode[domain.CombinedResult](t, rr)
		if result.Rule.Outcome != domain.OutcomeNotEligible {
			t.Errorf("expected rule outcome not_eligible, got %s", result.Rule.Outcome)
		}
		if result.Outcome != domain.OutcomeNotEligible {
			t.Errorf("expected combined not_eligible, got %s", result.Outcome)
		}
	})

	t.Run("MissingMandatoryFactEscalates", func(t *testing.T) {
		appendFact(t, server, "case-sparse", "savings", 20000)

		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			CaseID:    "case-sparse",
			RuleSetID: ruleSetID,
			AsOf:      "2026-06-15",
		})
		result := decode[domain.CombinedResult](t, rr)
		if result.Rule.Outcome != domain.OutcomeRequiresReview {
			t.Errorf("expected requires_review for missing mandatory fact, got %s", result.Rule.Outcome)
		}
		if !result.RequiresReview {
			t.Error("expected escalation flag")
		}
		if len(result.Rule.MandatoryGaps) == 0 || result.Rule.MandatoryGaps[0] != "age" {
			t.Errorf("expected mandatory gap 'age', got %v", result.Rule.MandatoryGaps)
		}
	})

	t.Run("NoCoverageDegrades", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/evaluate", EvaluateRequest{
			CaseID:    "case-pass",
			RuleSetID: ruleSetID,
			AsOf:      "2031-01-01",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected degraded 200, got %d: %s", rr.Code, rr.Body.String())
		}

		result := decode[domain.CombinedResult](t, rr)
		if result.Outcome != domain.OutcomeRequiresReview {
			t.Errorf("expected requires_review for uncovered date, got %s", result.Outcome)
		}
		if result.Confidence != 0.0 {
			t.Errorf("expected zero confidence, got %v", result.Confidence)
		}
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		cases := []struct {
			name string
			body any
		}{
			{"MissingCaseID", EvaluateRequest{RuleSetID: ruleSetID}},
			{"MissingRuleSetID", EvaluateRequest{CaseID: "c"}},
			{"BadAsOf", EvaluateRequest{CaseID: "c", RuleSetID: ruleSetID, AsOf: "june"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				rr := doJSON(t, server, http.MethodPost, "/evaluate", tc.body)
				if rr.Code != http.StatusBadRequest {
					t.Errorf("expected status 400, got %d", rr.Code)
				}
			})
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewBufferString("not-json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestVersionLifecycle(t *testing.T) {
	server := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/rulesets", RuleSetRequest{ID: "rs-student", Name: "Student"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create rule set: %d", rr.Code)
	}

	requirements := []domain.Requirement{
		{ID: "req-1", Label: "Enrolled", Expression: json.RawMessage(`{"==": [{"var": "enrolled"}, true]}`), Mandatory: true},
	}

	rr = doJSON(t, server, http.MethodPost, "/rulesets/rs-student/versions", VersionRequest{
		EffectiveFrom: "2026-01-01",
		EffectiveTo:   "2026-06-30",
		Requirements:  requirements,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create version: %d %s", rr.Code, rr.Body.String())
	}
	v1 := decode[domain.RuleVersion](t, rr)

	t.Run("RejectsInvalidExpression", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets/rs-student/versions", VersionRequest{
			EffectiveFrom: "2027-01-01",
			Requirements: []domain.Requirement{
				{ID: "bad", Expression: json.RawMessage(`{"between": [1, 2, 3]}`)},
			},
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unsupported operator, got %d", rr.Code)
		}
	})

	t.Run("RejectsInvertedRange", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets/rs-student/versions", VersionRequest{
			EffectiveFrom: "2026-06-01",
			EffectiveTo:   "2026-01-01",
			Requirements:  requirements,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for inverted range, got %d", rr.Code)
		}
	})

	t.Run("UpdateRequiresExpectedVersion", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/rulesets/rs-student/versions/"+v1.ID, VersionRequest{
			EffectiveFrom: "2026-01-01",
			Requirements:  requirements,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without expectedVersion, got %d", rr.Code)
		}
	})

	t.Run("UpdateWithStaleVersionConflicts", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/rulesets/rs-student/versions/"+v1.ID, VersionRequest{
			EffectiveFrom:   "2026-01-01",
			Requirements:    requirements,
			ExpectedVersion: 99,
		})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected 409 for stale version, got %d", rr.Code)
		}
	})

	t.Run("UpdateAndPublish", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPut, "/rulesets/rs-student/versions/"+v1.ID, VersionRequest{
			EffectiveFrom:   "2026-01-01",
			EffectiveTo:     "2026-12-31",
			Requirements:    requirements,
			ExpectedVersion: v1.MonotonicVersion,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("update failed: %d %s", rr.Code, rr.Body.String())
		}
		updated := decode[domain.RuleVersion](t, rr)
		if updated.MonotonicVersion != v1.MonotonicVersion+1 {
			t.Errorf("expected monotonic bump, got %d", updated.MonotonicVersion)
		}

		rr = doJSON(t, server, http.MethodPost,
			"/rulesets/rs-student/versions/"+v1.ID+"/publish",
			PublishRequest{ExpectedVersion: updated.MonotonicVersion})
		if rr.Code != http.StatusOK {
			t.Fatalf("publish failed: %d %s", rr.Code, rr.Body.String())
		}

		// Double publish is rejected.
		rr = doJSON(t, server, http.MethodPost,
			"/rulesets/rs-student/versions/"+v1.ID+"/publish",
			PublishRequest{ExpectedVersion: updated.MonotonicVersion + 1})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected 409 for double publish, got %d", rr.Code)
		}
	})

	t.Run("PublishOverlapConflicts", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rulesets/rs-student/versions", VersionRequest{
			EffectiveFrom: "2026-06-01",
			EffectiveTo:   "2027-06-01",
			Requirements:  requirements,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("failed to create overlapping draft: %d", rr.Code)
		}
		draft := decode[domain.RuleVersion](t, rr)

		rr = doJSON(t, server, http.MethodPost,
			"/rulesets/rs-student/versions/"+draft.ID+"/publish",
			PublishRequest{ExpectedVersion: draft.MonotonicVersion})
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected 409 for overlapping publish, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Conflicts []domain.Conflict `json:"conflicts"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse conflict response: %v", err)
		}
		if len(resp.Conflicts) != 1 || resp.Conflicts[0].Kind != domain.ConflictOverlap {
			t.Errorf("expected one overlap conflict, got %+v", resp.Conflicts)
		}
	})

	t.Run("ConflictsEndpoint", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets/rs-student/conflicts?from=2026-03-01&to=2026-04-01", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("conflicts query failed: %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("expected 1 conflict, got %d", resp.Count)
		}

		rr = doJSON(t, server, http.MethodGet, "/rulesets/rs-student/conflicts", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without from, got %d", rr.Code)
		}
	})

	t.Run("GapsEndpoint", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rulesets/rs-student/gaps", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("gaps query failed: %d", rr.Code)
		}
		var resp struct {
			Gaps  []domain.DateRange `json:"gaps"`
			Count int                `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		// One published version ending 2026-12-31: a trailing open gap.
		if resp.Count != 1 {
			t.Errorf("expected 1 gap, got %d: %+v", resp.Count, resp.Gaps)
		}
	})
}

func TestFactEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("AppendAndList", func(t *testing.T) {
		appendFact(t, server, "case-f", "age", 30)
		appendFact(t, server, "case-f", "age", 31)

		rr := doJSON(t, server, http.MethodGet, "/cases/case-f/facts", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("list facts failed: %d", rr.Code)
		}
		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 {
			t.Errorf("expected full history of 2 facts, got %d", resp.Count)
		}
	})

	t.Run("RejectsUnknownSource", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/cases/case-f/facts", map[string]any{
			"key":    "age",
			"value":  30,
			"source": "oracle",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for unknown source, got %d", rr.Code)
		}
	})

	t.Run("RejectsMissingKey", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/cases/case-f/facts", FactRequest{Source: domain.FactSourceUser})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for missing key, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
