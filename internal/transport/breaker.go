package transport

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"orderflow/internal/logging"
	"orderflow/internal/model"
)

type BreakerSettings struct {
	Name         string
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

// BreakerPublisher fails sends fast while the wrapped publisher keeps failing.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(next Publisher, s BreakerSettings, l *zap.Logger) *BreakerPublisher {
	l = logging.OrNop(l)
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < s.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= s.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn("publisher circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *BreakerPublisher) Publish(ctx context.Context, stream, key string, o model.Order) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, stream, key, o)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerPublisher) State() gobreaker.State { return b.cb.State() }
