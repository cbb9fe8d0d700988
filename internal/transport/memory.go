package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"orderflow/internal/logging"
	"orderflow/internal/model"
)

// Message is one publish seen by a MemoryBus.
type Message struct {
	Stream string
	Key    string
	Order  model.Order
}

// MemoryBus is an in-process Publisher and Subscriber. Each stream is a buffered
// channel; publishing to a full stream blocks until a subscriber drains it or ctx ends.
type MemoryBus struct {
	mu         sync.Mutex
	streams    map[string]chan model.Order
	subscribed map[string]bool
	published  []Message
	buffer     int
	retry      RetryPolicy
	logger     *zap.Logger
}

func NewMemoryBus(buffer int, l *zap.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &MemoryBus{
		streams:    make(map[string]chan model.Order),
		subscribed: make(map[string]bool),
		buffer:     buffer,
		retry:      DefaultRetryPolicy,
		logger:     logging.OrNop(l).With(zap.String("component", "memory_bus")),
	}
}

// WithRetry replaces the redelivery policy.
func (b *MemoryBus) WithRetry(p RetryPolicy) *MemoryBus {
	b.retry = p
	return b
}

func (b *MemoryBus) stream(name string) chan model.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.streams[name]
	if !ok {
		ch = make(chan model.Order, b.buffer)
		b.streams[name] = ch
	}
	return ch
}

func (b *MemoryBus) Publish(ctx context.Context, stream, key string, o model.Order) error {
	ch := b.stream(stream)
	select {
	case ch <- o:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	b.published = append(b.published, Message{Stream: stream, Key: key, Order: o})
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, stream string, h Handler) error {
	b.mu.Lock()
	if b.subscribed[stream] {
		b.mu.Unlock()
		return ErrAlreadySubscribed
	}
	b.subscribed[stream] = true
	b.mu.Unlock()

	ch := b.stream(stream)
	l := b.logger.With(zap.String("stream", stream))
	for {
		select {
		case <-ctx.Done():
			return nil
		case o := <-ch:
			if !deliver(ctx, h, o, b.retry, l) {
				return nil
			}
		}
	}
}

// Published returns a copy of every message published so far, in publish order.
func (b *MemoryBus) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}
