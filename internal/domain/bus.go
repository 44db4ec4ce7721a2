package domain

import (
	"context"
)

// EventBus carries the pipeline's events: publish notifications, async
// evaluation requests, decisions, and review escalations. Everything is
// fire-and-forget fan-out; no consumer replies to a producer.
// Backed by Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Standard topic names for the evaluation pipeline.
const (
	// TopicRuleSetPublished announces a newly published rule version so
	// version caches can invalidate.
	TopicRuleSetPublished = "eligibility.ruleset.published"

	// TopicCaseEvaluate carries asynchronous evaluation requests.
	TopicCaseEvaluate = "eligibility.case.evaluate"

	// TopicDecision carries every combined result.
	TopicDecision = "eligibility.decision"

	// TopicReviewEscalated carries decisions auto-escalated to a human
	// reviewer (requires_review = true).
	TopicReviewEscalated = "eligibility.review.escalated"
)

// PublishEvent is the payload of TopicRuleSetPublished.
type PublishEvent struct {
	RuleSetID string `json:"ruleSetId"`
	VersionID string `json:"versionId"`
}
