package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/logging"
	"orderflow/internal/model"
)

// writeBatchTimeout caps how long a synchronous single-message write waits for more messages.
const writeBatchTimeout = 5 * time.Millisecond

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaMessageReader abstracts kafka.Reader for testability.
type kafkaMessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes orders to the topic named by the stream. Pure-Go client (segmentio/kafka-go).
type KafkaPublisher struct {
	writer kafkaMessageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, l *zap.Logger) *KafkaPublisher {
	l = logging.OrNop(l).With(zap.String("component", "kafka_publisher"))
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     kafka.Murmur2Balancer{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: writeBatchTimeout,
			Logger:       logging.KafkaLogger(l),
			ErrorLogger:  logging.KafkaErrorLogger(l),
		},
		logger: l,
	}
}

// NewKafkaPublisherWith is only for tests to inject a fake writer.
func NewKafkaPublisherWith(w kafkaMessageWriter, l *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logging.OrNop(l)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, stream, key string, o model.Order) error {
	val, err := jsoncodec.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.OrderID, err)
	}
	msg := kafka.Message{
		Topic: stream,
		Key:   []byte(key),
		Value: val,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("produce to %s: %w", stream, err)
	}
	p.logger.Debug("published order", zap.String("topic", stream), zap.String("key", key))
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// KafkaSubscriber reads a topic as part of a consumer group and commits an offset
// only after the handler accepted the message.
type KafkaSubscriber struct {
	newReader func(topic string) kafkaMessageReader
	retry     RetryPolicy
	logger    *zap.Logger
}

func NewKafkaSubscriber(brokers []string, groupID string, l *zap.Logger) *KafkaSubscriber {
	l = logging.OrNop(l).With(zap.String("component", "kafka_subscriber"))
	return &KafkaSubscriber{
		newReader: func(topic string) kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:        brokers,
				GroupID:        groupID,
				Topic:          topic,
				MinBytes:       1,
				MaxBytes:       10e6,
				CommitInterval: 0, // manual commit
				StartOffset:    kafka.FirstOffset,
				Logger:         logging.KafkaLogger(l),
				ErrorLogger:    logging.KafkaErrorLogger(l),
			})
		},
		retry:  DefaultRetryPolicy,
		logger: l,
	}
}

// NewKafkaSubscriberWith is only for tests to inject a fake reader.
func NewKafkaSubscriberWith(r kafkaMessageReader, retry RetryPolicy, l *zap.Logger) *KafkaSubscriber {
	return &KafkaSubscriber{
		newReader: func(string) kafkaMessageReader { return r },
		retry:     retry,
		logger:    logging.OrNop(l),
	}
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context, stream string, h Handler) error {
	r := s.newReader(stream)
	defer func() {
		if err := r.Close(); err != nil {
			s.logger.Error("failed to close kafka reader", zap.String("topic", stream), zap.Error(err))
		}
	}()
	l := s.logger.With(zap.String("topic", stream))
	l.Info("kafka consumer started")

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch from %s: %w", stream, err)
		}
		fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}

		var o model.Order
		if err := jsoncodec.Unmarshal(m.Value, &o); err != nil {
			// a payload that cannot be decoded will never succeed, so it is skipped
			l.Error("dropping undecodable message", append(fields, zap.Error(err))...)
		} else if !deliver(ctx, h, o, s.retry, l) {
			return nil
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			l.Error("failed to commit offset", append(fields, zap.Error(err))...)
			continue
		}
		l.Debug("committed message offset", fields...)
	}
}
