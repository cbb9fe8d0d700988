package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"orderflow/internal/model"
)

// RetryPolicy bounds the delay between redeliveries of a message whose handler failed.
type RetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Initial: 200 * time.Millisecond, Max: 10 * time.Second}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	return b
}

// deliver calls h until it succeeds or ctx is done. It reports whether the order was handled.
func deliver(ctx context.Context, h Handler, o model.Order, p RetryPolicy, l *zap.Logger) bool {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := h(ctx, o)
		if err != nil {
			l.Warn("handler failed, redelivering",
				zap.String("order_id", o.OrderID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.backOff()), backoff.WithMaxElapsedTime(0))
	return err == nil
}
