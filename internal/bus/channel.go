// Package bus provides the event backbone of the evaluation pipeline:
// publish notifications, async evaluation requests, decision events, and
// review escalations.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
	"github.com/google/uuid"
)

// ChannelBus is the in-process Community tier bus. Delivery is best-effort
// fan-out: a subscriber whose buffer is full misses the message rather than
// blocking the publisher, and the miss is counted. Decisions are persisted
// before they are published, so a dropped event is observable lag, not data
// loss.
type ChannelBus struct {
	mu          sync.RWMutex
	bufferSize  int
	subscribers map[string][]*channelSubscription
	closed      bool

	dropped atomic.Int64
}

type channelSubscription struct {
	id     string
	topic  string
	inbox  chan *domain.Message
	cancel context.CancelFunc
}

// NewChannelBus creates an in-process bus. Each subscriber gets its own
// buffer of the given size.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:  bufferSize,
		subscribers: make(map[string][]*channelSubscription),
	}
}

// Publish fans a message out to every subscriber of the topic without
// blocking the caller.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	subs := b.subscribers[topic]
	b.mu.RUnlock()

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	for _, sub := range subs {
		select {
		case sub.inbox <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic. The handler runs on a dedicated
// goroutine per subscription, so a slow handler delays only its own inbox.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		inbox:  make(chan *domain.Message, b.bufferSize),
		cancel: cancel,
	}

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg := <-sub.inbox:
				if msg != nil {
					// Handler errors are the handler's problem to log;
					// the bus keeps delivering.
					_ = handler(subCtx, msg)
				}
			}
		}
	}()

	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return sub, nil
}

// Dropped reports how many messages were discarded because a subscriber's
// inbox was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping reports bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription and rejects further use.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscribers {
		for _, sub := range subs {
			sub.cancel()
			close(sub.inbox)
		}
	}
	b.subscribers = make(map[string][]*channelSubscription)
	return nil
}

func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	return nil
}

func (s *channelSubscription) Topic() string {
	return s.topic
}
