package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
	"github.com/Border-Link/immigration-ai-sub001/internal/expr"
	"github.com/Border-Link/immigration-ai-sub001/internal/repository"
)

const dateLayout = "2006-01-02"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *engine.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		engine:  eng,
		version: version,
	}
}

// EvaluateRequest is the request body for POST /evaluate.
type EvaluateRequest struct {
	CaseID    string `json:"caseId"`
	RuleSetID string `json:"ruleSetId"`

	// AsOf is the evaluation date (YYYY-MM-DD or RFC 3339). Empty means now.
	AsOf string `json:"asOf,omitempty"`
}

/// Evaluate handles POST /evaluate: it runs the full pipeline synchronously
// and returns the combined result.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.CaseID == "" || req.RuleSetID == "" {
		writeError(w, http.StatusBadRequest, "caseId and ruleSetId are required")
		return
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := parseDate(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "asOf must be YYYY-MM-DD or RFC 3339")
			return
		}
		asOf = parsed
	}

	result, err := h.engine.EvaluateCase(ctx, req.CaseID, req.RuleSetID, asOf)
	if err != nil {
		// No coverage for the date degrades to a review-only result rather
		// than failing the request.
		if errors.Is(err, domain.ErrNoActiveRuleVersion) {
			result = engine.DegradedResult(req.CaseID, req.RuleSetID, err.Error())
		} else {
			slog.Error("evaluation failed",
				"case_id", req.CaseID,
				"rule_set_id", req.RuleSetID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "evaluation failed")
			return
		}
	}

	if err := h.repo.SaveDecision(ctx, result); err != nil {
		slog.Error("failed to save decision", "decision_id", result.ID, "error", err)
	}

	h.publishDecision(ctx, result)

	writeJSON(w, http.StatusOK, result)
}

// publishDecision emits the decision event and, when escalated, the review
// event. Bus failures are logged, not surfaced; the decision is already
// persisted.
func (h *Handler) publishDecision(ctx context.Context, result *domain.CombinedResult) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		slog.Error("failed to encode decision event", "decision_id", result.ID, "error", err)
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision event", "decision_id", result.ID, "error", err)
	}
	if result.RequiresReview {
		if err := h.bus.Publish(ctx, domain.TopicReviewEscalated, payload); err != nil {
			slog.Error("failed to publish escalation event", "decision_id", result.ID, "error", err)
		}
	}
}

// GetDecision retrieves a decision by ID. Decisions are immutable once
// written, so cache hits never serve stale data.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cacheKey := "decision:" + id

	if h.cache != nil {
		if cached, err := h.cache.Get(r.Context(), cacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	decision, err := h.repo.GetDecision(r.Context(), id)
	if err != nil {
		writeRepoError(w, err, "decision")
		return
	}

	if h.cache != nil {
		if payload, err := json.Marshal(decision); err == nil {
			_ = h.cache.Set(r.Context(), cacheKey, payload, time.Hour)
		}
	}

	writeJSON(w, http.StatusOK, decision)
}

// ListDecisions returns the decision history for a case, newest first.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")

	decisions, err := h.repo.ListDecisions(r.Context(), caseID)
	if err != nil {
		writeRepoError(w, err, "decisions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
		"count":     len(decisions),
	})
}

// FactRequest is the request body for POST /cases/{caseId}/facts.
type FactRequest struct {
	Key    string            `json:"key"`
	Value  any               `json:"value"`
	Source domain.FactSource `json:"source"`
}

// AppendFact handles POST /cases/{caseId}/facts. Facts are append-only;
// posting the same key again supersedes the earlier value at evaluation time.
func (h *Handler) AppendFact(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")

	var req FactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	if !domain.ValidSource(req.Source) {
		writeError(w, http.StatusBadRequest, "source must be user, ai, or reviewer")
		return
	}

	fact := &domain.Fact{
		ID:        uuid.New().String(),
		CaseID:    caseID,
		Key:       req.Key,
		Value:     req.Value,
		Source:    req.Source,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.repo.AppendFact(r.Context(), fact); err != nil {
		slog.Error("failed to append fact", "case_id", caseID, "key", req.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save fact")
		return
	}

	writeJSON(w, http.StatusCreated, fact)
}

// ListFacts returns the full fact history for a case.
func (h *Handler) ListFacts(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "caseId")

	facts, err := h.repo.ListFacts(r.Context(), caseID)
	if err != nil {
		writeRepoError(w, err, "facts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"facts": facts,
		"count": len(facts),
	})
}

// RuleSetRequest is the request body for POST /rulesets.
type RuleSetRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateRuleSet handles POST /rulesets.
func (h *Handler) CreateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req RuleSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rs := &domain.RuleSet{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if rs.ID == "" {
		rs.ID = uuid.New().String()
	}

	if err := h.repo.SaveRuleSet(r.Context(), rs); err != nil {
		slog.Error("failed to save rule set", "id", rs.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save rule set")
		return
	}

	slog.Info("rule set created", "id", rs.ID, "name", rs.Name)
	writeJSON(w, http.StatusCreated, rs)
}

// ListRuleSets handles GET /rulesets.
func (h *Handler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.repo.ListRuleSets(r.Context())
	if err != nil {
		writeRepoError(w, err, "rule sets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ruleSets": sets,
		"count":    len(sets),
	})
}

// GetRuleSet handles GET /rulesets/{id}.
func (h *Handler) GetRuleSet(w http.ResponseWriter, r *http.Request) {
	rs, err := h.repo.GetRuleSet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "rule set")
		return
	}

	writeJSON(w, http.StatusOK, rs)
}

// VersionRequest is the request body for creating or updating a rule version.
type VersionRequest struct {
	EffectiveFrom string               `json:"effectiveFrom"`
	EffectiveTo   string               `json:"effectiveTo,omitempty"`
	Requirements  []domain.Requirement `json:"requirements"`

	// ExpectedVersion is the monotonic version the caller observed. Required
	// for updates, ignored on create.
	ExpectedVersion int64 `json:"expectedVersion,omitempty"`
}

func (req *VersionRequest) parse() (from time.Time, to *time.Time, errMsg string) {
	if req.EffectiveFrom == "" {
		return time.Time{}, nil, "effectiveFrom is required"
	}
	from, err := parseDate(req.EffectiveFrom)
	if err != nil {
		return time.Time{}, nil, "effectiveFrom must be YYYY-MM-DD or RFC 3339"
	}

	if req.EffectiveTo != "" {
		parsed, err := parseDate(req.EffectiveTo)
		if err != nil {
			return time.Time{}, nil, "effectiveTo must be YYYY-MM-DD or RFC 3339"
		}
		if parsed.Before(from) {
			return time.Time{}, nil, "effectiveTo precedes effectiveFrom"
		}
		to = &parsed
	}

	return from, to, ""
}

// validateRequirements rejects structurally invalid expressions at authoring
// time. Runtime failures (missing facts, type mismatches against real values)
// still surface per requirement during evaluation.
func validateRequirements(reqs []domain.Requirement) string {
	seen := make(map[string]bool, len(reqs))
	for i, req := range reqs {
		if req.ID == "" {
			return fmt.Sprintf("requirements[%d]: id is required", i)
		}
		if seen[req.ID] {
			return fmt.Sprintf("requirements[%d]: duplicate id %q", i, req.ID)
		}
		seen[req.ID] = true

		if result := expr.Validate(req.Expression); !result.OK {
			return fmt.Sprintf("requirements[%d] (%s): %s", i, req.ID, strings.Join(result.Messages(), "; "))
		}
	}
	return ""
}

// CreateVersion handles POST /rulesets/{id}/versions.
func (h *Handler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleSetID := chi.URLParam(r, "id")

	if _, err := h.repo.GetRuleSet(ctx, ruleSetID); err != nil {
		writeRepoError(w, err, "rule set")
		return
	}

	var req VersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	from, to, errMsg := req.parse()
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequirements(req.Requirements); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	now := time.Now().UTC()
	version := &domain.RuleVersion{
		ID:            uuid.New().String(),
		RuleSetID:     ruleSetID,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Requirements:  req.Requirements,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.repo.CreateRuleVersion(ctx, version); err != nil {
		slog.Error("failed to create rule version", "rule_set_id", ruleSetID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create version")
		return
	}

	slog.Info("rule version created", "rule_set_id", ruleSetID, "version_id", version.ID)
	writeJSON(w, http.StatusCreated, version)
}

// ListVersions handles GET /rulesets/{id}/versions, drafts included.
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.repo.ListRuleVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "versions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"versions": versions,
		"count":    len(versions),
	})
}

// GetVersion handles GET /rulesets/{id}/versions/{versionId}.
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	version, err := h.repo.GetRuleVersion(r.Context(), chi.URLParam(r, "versionId"))
	if err != nil {
		writeRepoError(w, err, "version")
		return
	}

	writeJSON(w, http.StatusOK, version)
}

// UpdateVersion handles PUT /rulesets/{id}/versions/{versionId}. Only drafts
// can change; the write is conditioned on the observed monotonic version.
func (h *Handler) UpdateVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versionID := chi.URLParam(r, "versionId")

	var req VersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ExpectedVersion <= 0 {
		writeError(w, http.StatusBadRequest, "expectedVersion is required")
		return
	}

	from, to, errMsg := req.parse()
	if errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}
	if errMsg := validateRequirements(req.Requirements); errMsg != "" {
		writeError(w, http.StatusBadRequest, errMsg)
		return
	}

	version := &domain.RuleVersion{
		ID:            versionID,
		EffectiveFrom: from,
		EffectiveTo:   to,
		Requirements:  req.Requirements,
	}

	if err := h.repo.UpdateRuleVersion(ctx, version, req.ExpectedVersion); err != nil {
		switch {
		case errors.Is(err, domain.ErrOptimisticLock):
			writeError(w, http.StatusConflict, "version changed since it was read; re-read and retry")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "version not found")
		default:
			slog.Error("failed to update rule version", "version_id", versionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update version")
		}
		return
	}

	updated, err := h.repo.GetRuleVersion(ctx, versionID)
	if err != nil {
		writeRepoError(w, err, "version")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// PublishRequest is the request body for publishing a version.
type PublishRequest struct {
	ExpectedVersion int64 `json:"expectedVersion"`
}

// PublishVersion handles POST /rulesets/{id}/versions/{versionId}/publish.
// Publication runs conflict detection against the currently published
// versions; the compare-and-swap write guarantees nothing moved between the
// check and the flip.
func (h *Handler) PublishVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleSetID := chi.URLParam(r, "id")
	versionID := chi.URLParam(r, "versionId")

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ExpectedVersion <= 0 {
		writeError(w, http.StatusBadRequest, "expectedVersion is required")
		return
	}

	version, err := h.repo.GetRuleVersion(ctx, versionID)
	if err != nil {
		writeRepoError(w, err, "version")
		return
	}
	if version.RuleSetID != ruleSetID {
		writeError(w, http.StatusNotFound, "version does not belong to rule set")
		return
	}
	if version.Published {
		writeError(w, http.StatusConflict, "version is already published")
		return
	}

	published, err := h.repo.PublishedVersions(ctx, ruleSetID)
	if err != nil {
		writeRepoError(w, err, "published versions")
		return
	}

	conflicts := engine.DetectConflicts(published, version.EffectiveFrom, version.EffectiveTo, version.ID)
	if len(conflicts) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     domain.ErrRuleVersionConflict.Error(),
			"conflicts": conflicts,
		})
		return
	}

	if err := h.repo.PublishRuleVersion(ctx, versionID, req.ExpectedVersion); err != nil {
		switch {
		case errors.Is(err, domain.ErrOptimisticLock):
			writeError(w, http.StatusConflict, "version changed since it was read; re-read and retry")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "version not found")
		default:
			slog.Error("failed to publish rule version", "version_id", versionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to publish version")
		}
		return
	}

	// Announce so version caches invalidate.
	if h.bus != nil {
		payload, _ := json.Marshal(domain.PublishEvent{RuleSetID: ruleSetID, VersionID: versionID})
		if err := h.bus.Publish(ctx, domain.TopicRuleSetPublished, payload); err != nil {
			slog.Error("failed to publish rule set event", "rule_set_id", ruleSetID, "error", err)
		}
	}

	result, err := h.repo.GetRuleVersion(ctx, versionID)
	if err != nil {
		writeRepoError(w, err, "version")
		return
	}

	slog.Info("rule version published",
		"rule_set_id", ruleSetID,
		"version_id", versionID,
		"effective_from", result.EffectiveFrom.Format(dateLayout),
	)
	writeJSON(w, http.StatusOK, result)
}

// Conflicts handles GET /rulesets/{id}/conflicts?from=...&to=...&exclude=...
// It reports how a proposed effective range collides with published versions.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleSetID := chi.URLParam(r, "id")

	fromParam := r.URL.Query().Get("from")
	if fromParam == "" {
		writeError(w, http.StatusBadRequest, "from query parameter is required")
		return
	}
	from, err := parseDate(fromParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD or RFC 3339")
		return
	}

	var to *time.Time
	if toParam := r.URL.Query().Get("to"); toParam != "" {
		parsed, err := parseDate(toParam)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD or RFC 3339")
			return
		}
		if parsed.Before(from) {
			writeError(w, http.StatusBadRequest, "to precedes from")
			return
		}
		to = &parsed
	}

	published, err := h.repo.PublishedVersions(ctx, ruleSetID)
	if err != nil {
		writeRepoError(w, err, "published versions")
		return
	}

	conflicts := engine.DetectConflicts(published, from, to, r.URL.Query().Get("exclude"))

	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

// Gaps handles GET /rulesets/{id}/gaps: date ranges between the earliest
// published effective date and the end of coverage that no version covers.
func (h *Handler) Gaps(w http.ResponseWriter, r *http.Request) {
	published, err := h.repo.PublishedVersions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err, "published versions")
		return
	}

	gaps := engine.GapAnalysis(published)

	writeJSON(w, http.StatusOK, map[string]any{
		"gaps":  gaps,
		"count": len(gaps),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRepoError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	slog.Error("repository error", "what", what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}
