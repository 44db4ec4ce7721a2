// Package worker provides async evaluation processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/Border-Link/immigration-ai-sub001/internal/engine"
)

// VersionInvalidator drops cached version resolutions for a rule set. It is
// satisfied by the cache package's VersionCache.
type VersionInvalidator interface {
	Invalidate(ctx context.Context, ruleSetID string)
}

// Worker consumes evaluation requests from the EventBus and publication
// announcements for cache invalidation.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	engine   *engine.Engine
	versions VersionInvalidator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. versions may be nil when no version
// cache is in play.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, versions VersionInvalidator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		engine:   eng,
		versions: versions,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the evaluation and publication topics.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseEvaluate, w.handleEvaluate)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	if w.versions != nil {
		sub, err = w.bus.Subscribe(w.ctx, domain.TopicRuleSetPublished, w.handlePublished)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("worker started",
		"subscription_count", len(w.subscriptions),
	)
	return nil
}

// EvaluateMessage is the payload of TopicCaseEvaluate.
type EvaluateMessage struct {
	CaseID    string `json:"caseId"`
	RuleSetID string `json:"ruleSetId"`

	// AsOf is the evaluation date in RFC 3339. Empty means now.
	AsOf string `json:"asOf,omitempty"`
}

// handleEvaluate runs one asynchronous evaluation end to end: evaluate,
// persist, publish the decision, and escalate when review is required.
func (w *Worker) handleEvaluate(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req EvaluateMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse evaluation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.CaseID == "" || req.RuleSetID == "" {
		slog.Error("evaluation message missing identifiers",
			"message_id", msg.ID,
		)
		return nil
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		parsed, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			slog.Error("evaluation message has invalid asOf",
				"message_id", msg.ID,
				"as_of", req.AsOf,
				"error", err,
			)
			return nil
		}
		asOf = parsed
	}

	result, err := w.engine.EvaluateCase(ctx, req.CaseID, req.RuleSetID, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveRuleVersion) {
			result = engine.DegradedResult(req.CaseID, req.RuleSetID, err.Error())
		} else {
			slog.Error("evaluation failed",
				"case_id", req.CaseID,
				"rule_set_id", req.RuleSetID,
				"error", err,
			)
			return err
		}
	}

	if w.repo != nil {
		if err := w.repo.SaveDecision(ctx, result); err != nil {
			slog.Error("failed to save decision",
				"case_id", req.CaseID,
				"decision_id", result.ID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Error("failed to publish decision",
			"case_id", req.CaseID,
			"error", err,
		)
	}

	if result.RequiresReview {
		if err := w.bus.Publish(ctx, domain.TopicReviewEscalated, payload); err != nil {
			slog.Error("failed to publish escalation",
				"case_id", req.CaseID,
				"error", err,
			)
		}
	}

	slog.Info("case evaluated",
		"case_id", req.CaseID,
		"rule_set_id", req.RuleSetID,
		"outcome", result.Outcome,
		"confidence", result.Confidence,
		"requires_review", result.RequiresReview,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handlePublished drops cached version resolutions for the announced rule set.
func (w *Worker) handlePublished(ctx context.Context, msg *domain.Message) error {
	var event domain.PublishEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse publication event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.RuleSetID == "" {
		return nil
	}

	w.versions.Invalidate(ctx, event.RuleSetID)
	slog.Debug("version cache invalidated",
		"rule_set_id", event.RuleSetID,
		"version_id", event.VersionID,
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
