// Package confluent publishes orders through librdkafka with an idempotent producer.
// It needs cgo; the pure-Go publisher lives in the parent package.
package confluent

import (
	"context"
	"fmt"
	"strings"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/logging"
	"orderflow/internal/model"
)

// producer abstracts *ck.Producer for testability.
type producer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	Events() chan ck.Event
	Flush(timeoutMs int) int
	Close()
}

type Publisher struct {
	p      producer
	logger *zap.Logger
	done   chan struct{}
}

func NewPublisher(brokers []string, l *zap.Logger) (*Publisher, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"enable.idempotence": true,
		"acks":               "all",
		"partitioner":        "murmur2_random",
	})
	if err != nil {
		return nil, fmt.Errorf("confluent producer: %w", err)
	}
	return newPublisher(p, l), nil
}

func newPublisher(p producer, l *zap.Logger) *Publisher {
	pub := &Publisher{
		p:      p,
		logger: logging.OrNop(l).With(zap.String("component", "confluent_publisher")),
		done:   make(chan struct{}),
	}
	go pub.drainEvents()
	return pub
}

// drainEvents logs producer-level events that are not tied to a single send.
func (pub *Publisher) drainEvents() {
	defer close(pub.done)
	for ev := range pub.p.Events() {
		switch e := ev.(type) {
		case ck.Error:
			pub.logger.Error("kafka producer error", zap.String("code", e.Code().String()), zap.Error(e))
		case *ck.Message:
			if e.TopicPartition.Error != nil {
				pub.logger.Error("untracked delivery failed", zap.Error(e.TopicPartition.Error))
			}
		}
	}
}

// Publish produces one message and waits for its delivery report.
func (pub *Publisher) Publish(ctx context.Context, stream, key string, o model.Order) error {
	val, err := jsoncodec.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.OrderID, err)
	}
	topic := stream
	delivery := make(chan ck.Event, 1)
	err = pub.p.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &topic, Partition: ck.PartitionAny},
		Key:            []byte(key),
		Value:          val,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce to %s: %w", stream, err)
	}

	select {
	case ev := <-delivery:
		m, ok := ev.(*ck.Message)
		if !ok {
			return fmt.Errorf("produce to %s: unexpected delivery event %v", stream, ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", stream, m.TopicPartition.Error)
		}
		pub.logger.Debug("published order",
			zap.String("topic", stream),
			zap.String("key", key),
			zap.Int32("partition", m.TopicPartition.Partition))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages for up to five seconds and releases the producer.
func (pub *Publisher) Close() error {
	if left := pub.p.Flush(5000); left > 0 {
		pub.logger.Warn("messages left unflushed on close", zap.Int("count", left))
	}
	pub.p.Close()
	<-pub.done
	return nil
}
