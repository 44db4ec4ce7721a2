package bus

import (
	"fmt"

	"github.com/Border-Link/immigration-ai-sub001/internal/domain"
)

// New selects the bus implementation for the configured tier: in-process
// channels for a single node, NATS when workers run on other nodes.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
