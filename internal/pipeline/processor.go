package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"orderflow/internal/logging"
	"orderflow/internal/model"
)

type Store interface {
	Upsert(ctx context.Context, rec model.PersistedOrder) error
}

// MetricsSink records consumer-side metrics. Implementations must not panic or block.
type MetricsSink interface {
	RecordProcessed(stream string)
	RecordLatency(stream string, d time.Duration)
	RecordDeadLettered(stream string)
}

type DeadLetterRouter interface {
	DeadLetter(ctx context.Context, stream string, o model.Order, reason error)
}

// Processor runs receive -> validate -> enrich -> persist -> record for one message.
type Processor struct {
	store   Store
	metrics MetricsSink
	dlq     DeadLetterRouter
	markup  float64
	logger  *zap.Logger
	now     func() time.Time
}

func NewProcessor(store Store, metrics MetricsSink, dlq DeadLetterRouter, markup float64, l *zap.Logger) *Processor {
	if markup <= 0 {
		markup = DefaultMarkup
	}
	return &Processor{
		store:   store,
		metrics: metrics,
		dlq:     dlq,
		markup:  markup,
		logger:  logging.OrNop(l).With(zap.String("component", "processor")),
		now:     time.Now,
	}
}

// Handle processes an order received on stream. Invalid orders are dead-lettered and
// acknowledged. A storage failure is returned so the transport redelivers the message.
func (p *Processor) Handle(ctx context.Context, stream string, o model.Order) error {
	start := p.now()
	if err := Validate(o); err != nil {
		p.dlq.DeadLetter(ctx, stream, o, err)
		p.metrics.RecordDeadLettered(stream)
		return nil
	}

	enriched := Enrich(o, p.markup)
	if err := p.store.Upsert(ctx, enriched.Persisted()); err != nil {
		return fmt.Errorf("persist order %s: %w", o.OrderID, err)
	}
	elapsed := p.now().Sub(start)

	p.metrics.RecordProcessed(stream)
	p.metrics.RecordLatency(stream, elapsed)
	p.logger.Debug("order processed",
		zap.String("stream", stream),
		zap.String("order_id", o.OrderID),
		zap.Float64("price", enriched.Price),
		zap.Duration("elapsed", elapsed))
	return nil
}
