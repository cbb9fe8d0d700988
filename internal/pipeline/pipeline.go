package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"orderflow/internal/logging"
	"orderflow/internal/model"
)

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, h func(context.Context, model.Order) error) error
}

// Pipeline runs one independent consumption path per stream plus the scheduled generator.
// The paths share only the store and metrics behind the Processor.
type Pipeline struct {
	sub       Subscriber
	streams   []string
	processor *Processor
	producer  *Producer
	interval  time.Duration
	logger    *zap.Logger
}

// New builds a Pipeline. interval <= 0 disables the scheduled generator.
func New(sub Subscriber, streams []string, processor *Processor, producer *Producer, interval time.Duration, l *zap.Logger) *Pipeline {
	return &Pipeline{
		sub:       sub,
		streams:   streams,
		processor: processor,
		producer:  producer,
		interval:  interval,
		logger:    logging.OrNop(l).With(zap.String("component", "pipeline")),
	}
}

// Run blocks until ctx is done or a consumption path fails.
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, stream := range p.streams {
		stream := stream
		g.Go(func() error {
			p.logger.Info("consumption path started", zap.String("stream", stream))
			err := p.sub.Subscribe(gctx, stream, func(ctx context.Context, o model.Order) error {
				return p.processor.Handle(ctx, stream, o)
			})
			if err != nil {
				return fmt.Errorf("stream %s: %w", stream, err)
			}
			return nil
		})
	}
	if p.interval > 0 && p.producer != nil {
		g.Go(func() error { return p.producer.RunScheduled(gctx, p.interval) })
	}
	return g.Wait()
}
