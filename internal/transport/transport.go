// Package transport moves orders between the producer and the per-stream consumers.
//
// Publishers key every message by the order id so that all deliveries of one order
// land on the same partition. Subscribers hand each decoded order to a Handler and
// only acknowledge it once the handler returns nil; a failing handler gets the same
// order again after a backoff.
package transport

import (
	"context"
	"errors"

	"orderflow/internal/model"
)

// Handler processes one received order. A nil return acknowledges the message.
type Handler = func(ctx context.Context, o model.Order) error

type Publisher interface {
	Publish(ctx context.Context, stream, key string, o model.Order) error
}

// Subscriber consumes one stream until ctx is done. Subscribe blocks and returns nil on cancellation.
type Subscriber interface {
	Subscribe(ctx context.Context, stream string, h Handler) error
}

var ErrAlreadySubscribed = errors.New("stream already has a subscriber")
