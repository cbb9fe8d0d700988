package deadletter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/logging"
	"orderflow/internal/model"
)

// Record is one rejected order as written to the error log.
type Record struct {
	ID     string      `json:"id"`
	Stream string      `json:"stream"`
	Reason string      `json:"reason"`
	At     int64       `json:"at"` // unix millis
	Order  model.Order `json:"order"`
}

type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// MultiSink fans out writes to multiple underlying sinks. Every sink is tried.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(ss ...Sink) *MultiSink {
	return &MultiSink{sinks: ss}
}

func (m *MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileSink appends records as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	return &FileSink{path: path}, nil
}

func (w *FileSink) Write(_ context.Context, rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	if err := jsoncodec.Encode(f, rec); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

const writeBatchTimeout = 5 * time.Millisecond

const (
	HeaderReason       = "x-dlq-reason"
	HeaderSourceStream = "x-dlq-source-stream"
	HeaderID           = "x-dlq-id"
)

// KafkaSink publishes the original order to the dead-letter topic, keyed by order id.
// The rejection details travel in headers so the value stays a plain order.
type KafkaSink struct {
	writer kafkaMessageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string, l *zap.Logger) *KafkaSink {
	l = logging.OrNop(l).With(zap.String("component", "dlq_writer"))
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     kafka.Murmur2Balancer{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: writeBatchTimeout,
			ErrorLogger:  logging.KafkaErrorLogger(l),
		},
		topic: topic,
	}
}

// NewKafkaSinkWith is only for tests to inject a fake writer.
func NewKafkaSinkWith(w kafkaMessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (k *KafkaSink) Write(ctx context.Context, rec Record) error {
	b, err := jsoncodec.Marshal(rec.Order)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topic,
		Key:   []byte(rec.Order.OrderID),
		Value: b,
		Headers: []kafka.Header{
			{Key: HeaderReason, Value: []byte(rec.Reason)},
			{Key: HeaderSourceStream, Value: []byte(rec.Stream)},
			{Key: HeaderID, Value: []byte(rec.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("produce to %s: %w", k.topic, err)
	}
	return nil
}

// Close releases the underlying writer when it owns one.
func (k *KafkaSink) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Router is the terminal path for rejected orders: it logs them at error level and
// forwards them, unchanged, to its sinks. Nothing is retried.
type Router struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewRouter builds a Router. A nil sink only logs.
func NewRouter(sink Sink, l *zap.Logger) *Router {
	return &Router{
		sink:   sink,
		logger: logging.OrNop(l).With(zap.String("component", "dead_letter")),
		now:    time.Now,
	}
}

func (r *Router) DeadLetter(ctx context.Context, stream string, o model.Order, reason error) {
	rec := Record{
		ID:     ulid.Make().String(),
		Stream: stream,
		Reason: reason.Error(),
		At:     r.now().UnixMilli(),
		Order:  o,
	}
	r.logger.Error("order rejected",
		zap.String("dlq_id", rec.ID),
		zap.String("stream", stream),
		zap.String("order_id", o.OrderID),
		zap.Float64("price", o.Price),
		zap.Error(reason))

	if r.sink == nil {
		return
	}
	if err := r.sink.Write(ctx, rec); err != nil {
		r.logger.Error("failed to write dead letter",
			zap.String("dlq_id", rec.ID),
			zap.String("order_id", o.OrderID),
			zap.Error(err))
	}
}
