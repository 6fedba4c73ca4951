package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/walletera/eventskit/events"
	"github.com/walletera/eventskit/messages"
)

const busBufferSize = 1024

// EventBus is an in-process event bus: it implements events.Publisher on
// one side and messages.Consumer on the other, so the same
// messages.Processor wiring works with or without RabbitMQ.
type EventBus struct {
	mu     sync.Mutex
	ch     chan messages.Message
	closed bool
}

var (
	_ events.Publisher  = (*EventBus)(nil)
	_ messages.Consumer = (*EventBus)(nil)
)

func NewEventBus() *EventBus {
	return &EventBus{ch: make(chan messages.Message, busBufferSize)}
}

func (b *EventBus) Publish(ctx context.Context, data events.EventData, info events.RoutingInfo) error {
	serialized, err := data.Serialize()
	if err != nil {
		return fmt.Errorf("error serializing event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	select {
	case b.ch <- messages.NewMessage(serialized, noopAcknowledger{}):
		return nil
	default:
		return fmt.Errorf("event bus buffer is full")
	}
}

func (b *EventBus) Consume() (<-chan messages.Message, error) {
	return b.ch, nil
}

func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.ch)
	return nil
}

type noopAcknowledger struct{}

func (noopAcknowledger) Ack() error                        { return nil }
func (noopAcknowledger) Nack(opts messages.NackOpts) error { return nil }
