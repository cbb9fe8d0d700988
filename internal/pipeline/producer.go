package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/logging"
	"orderflow/internal/model"
	"orderflow/internal/routing"
)

// DefaultMaxBatch bounds a single batch request.
const DefaultMaxBatch = 400

var (
	ErrNegativeCount = errors.New("batch count must not be negative")
	ErrBatchTooLarge = errors.New("batch count exceeds the maximum batch size")
)

type Publisher interface {
	Publish(ctx context.Context, stream, key string, o model.Order) error
}

// OrderSource produces synthetic orders.
type OrderSource interface {
	GenerateOne() model.Order
	NextBatchOrder() model.Order
	Run(ctx context.Context, interval time.Duration, fn func(context.Context, model.Order)) error
}

type PublishMetrics interface {
	RecordPublished(stream string)
	RecordPublishFailure(stream string)
}

type PublishFailure struct {
	OrderID string `json:"orderId"`
	Stream  string `json:"stream"`
	Error   string `json:"error"`
}

// BatchResult resolves once every send of a batch has been attempted.
// Err is set only when the batch as a whole failed; individual send failures are listed in Failures.
type BatchResult struct {
	Count    int              `json:"count"`
	Sent     int              `json:"sent"`
	Failed   int              `json:"failed"`
	Failures []PublishFailure `json:"failures,omitempty"`
	Err      error            `json:"-"`
}

// Ack renders the acknowledgement returned to the caller that requested the batch.
func (r BatchResult) Ack() string {
	if r.Err != nil {
		return fmt.Sprintf("error sending batch of %d orders: %v", r.Count, r.Err)
	}
	return fmt.Sprintf("sent batch of %d orders successfully", r.Count)
}

// Producer routes generated orders to their stream and publishes them keyed by order id.
type Producer struct {
	source   OrderSource
	router   routing.Router
	pub      Publisher
	metrics  PublishMetrics
	maxBatch int
	logger   *zap.Logger
}

func NewProducer(source OrderSource, router routing.Router, pub Publisher, metrics PublishMetrics, l *zap.Logger) *Producer {
	return &Producer{
		source:   source,
		router:   router,
		pub:      pub,
		metrics:  metrics,
		maxBatch: DefaultMaxBatch,
		logger:   logging.OrNop(l).With(zap.String("component", "producer")),
	}
}

// WithMaxBatch replaces the largest count SubmitBatch accepts. n <= 0 keeps the current bound.
func (p *Producer) WithMaxBatch(n int) *Producer {
	if n > 0 {
		p.maxBatch = n
	}
	return p
}

// MaxBatch reports the largest count SubmitBatch accepts.
func (p *Producer) MaxBatch() int { return p.maxBatch }

// PublishOne sends o to the stream chosen by its priority. Failures are logged and returned.
func (p *Producer) PublishOne(ctx context.Context, o model.Order) error {
	stream := p.router.RouteFor(o.Priority)
	if err := p.pub.Publish(ctx, stream, o.OrderID, o); err != nil {
		p.metrics.RecordPublishFailure(stream)
		p.logger.Error("failed to publish order",
			zap.String("stream", stream),
			zap.String("order_id", o.OrderID),
			zap.Error(err))
		return err
	}
	p.metrics.RecordPublished(stream)
	p.logger.Info("order published",
		zap.String("stream", stream),
		zap.String("order_id", o.OrderID),
		zap.String("priority", string(o.Priority)))
	return nil
}

// SubmitBatch generates count orders and publishes them sequentially on a background goroutine.
// The returned channel yields exactly one result once every send was attempted.
// Counts that are negative or above the maximum batch size resolve immediately with an error.
// The batch is not cancelled when ctx is.
func (p *Producer) SubmitBatch(ctx context.Context, count int) <-chan BatchResult {
	out := make(chan BatchResult, 1)
	switch {
	case count < 0:
		out <- BatchResult{Count: count, Err: ErrNegativeCount}
		close(out)
		return out
	case count > p.maxBatch:
		out <- BatchResult{Count: count, Err: fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, count, p.maxBatch)}
		close(out)
		return out
	case count == 0:
		out <- BatchResult{}
		close(out)
		return out
	}

	bctx := context.WithoutCancel(ctx)
	go func() {
		defer close(out)
		out <- p.runBatch(bctx, count)
	}()
	return out
}

func (p *Producer) runBatch(ctx context.Context, count int) (res BatchResult) {
	res.Count = count
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("batch aborted: %v", r)
			p.logger.Error("batch aborted", zap.Int("count", count), zap.Any("panic", r))
		}
	}()

	for i := 0; i < count; i++ {
		o := p.source.NextBatchOrder()
		if err := p.PublishOne(ctx, o); err != nil {
			res.Failed++
			res.Failures = append(res.Failures, PublishFailure{
				OrderID: o.OrderID,
				Stream:  p.router.RouteFor(o.Priority),
				Error:   err.Error(),
			})
			continue
		}
		res.Sent++
	}
	p.logger.Info("batch submitted", zap.Int("count", count), zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return res
}

// RunScheduled publishes one generated order per tick until ctx is done.
func (p *Producer) RunScheduled(ctx context.Context, interval time.Duration) error {
	p.logger.Info("scheduled generator started", zap.Duration("interval", interval))
	return p.source.Run(ctx, interval, func(ctx context.Context, o model.Order) {
		_ = p.PublishOne(ctx, o)
	})
}
