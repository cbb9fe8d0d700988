package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"orderflow/internal/generator"
	"orderflow/internal/metrics"
	"orderflow/internal/model"
	"orderflow/internal/routing"
	"orderflow/internal/store"
	"orderflow/internal/transport"
)

const (
	standard = "orders-topic"
	urgent   = "urgent-orders-topic"
)

var testRouter = routing.Router{Standard: standard, Urgent: urgent}

type flakyStore struct {
	*store.InMemoryStore
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) Upsert(ctx context.Context, rec model.PersistedOrder) error {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return errors.New("storage unavailable")
	}
	f.mu.Unlock()
	return f.InMemoryStore.Upsert(ctx, rec)
}

type recordingDLQ struct {
	mu     sync.Mutex
	orders []model.Order
}

func (r *recordingDLQ) DeadLetter(_ context.Context, _ string, o model.Order, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, o)
}

func (r *recordingDLQ) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type failingPublisher struct {
	mu     sync.Mutex
	calls  int
	failAt map[int]bool
	sent   []transport.Message
}

func (f *failingPublisher) Publish(_ context.Context, stream, key string, o model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt[f.calls] {
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, transport.Message{Stream: stream, Key: key, Order: o})
	return nil
}

type panickingSource struct{ OrderSource }

func (panickingSource) NextBatchOrder() model.Order { panic("generator exploded") }

// lockstepPublisher fails any send made while the source has produced orders that were not yet sent.
type lockstepPublisher struct {
	src  *countingSource
	sent int
}

func (l *lockstepPublisher) Publish(context.Context, string, string, model.Order) error {
	l.sent++
	if got := l.src.generated.Load(); got != int64(l.sent) {
		return fmt.Errorf("generated %d orders before sending %d", got, l.sent)
	}
	return nil
}

type countingSource struct {
	*generator.Generator
	generated atomic.Int64
}

func (c *countingSource) NextBatchOrder() model.Order {
	c.generated.Add(1)
	return c.Generator.NextBatchOrder()
}

func newProcessor(s Store, reg *metrics.Registry, dlq DeadLetterRouter) *Processor {
	return NewProcessor(s, reg, dlq, DefaultMarkup, nil)
}

func TestValidate(t *testing.T) {
	for _, price := range []float64{0, -1, -0.01, math.NaN(), math.Inf(-1)} {
		if err := Validate(model.Order{Price: price}); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %v: want ErrInvalidPrice, got %v", price, err)
		}
	}
	for _, price := range []float64{0.01, 10, 999.99} {
		if err := Validate(model.Order{Price: price}); err != nil {
			t.Fatalf("price %v: unexpected error %v", price, err)
		}
	}
}

func TestHandle_InvalidPriceIsDeadLetteredNeverStored(t *testing.T) {
	s := store.NewInMemoryStore()
	reg := metrics.NewRegistry(nil)
	dlq := &recordingDLQ{}
	p := newProcessor(s, reg, dlq)

	for i, price := range []float64{0, -5, math.NaN()} {
		o := model.Order{OrderID: string(rune('a' + i)), Price: price, Priority: model.PriorityLow}
		if err := p.Handle(context.Background(), standard, o); err != nil {
			t.Fatalf("invalid order must be acknowledged, got %v", err)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("invalid orders must never be stored, got %d", s.Len())
	}
	if dlq.len() != 3 {
		t.Fatalf("want 3 dead letters, got %d", dlq.len())
	}
	if dlq.orders[1].Price != -5 {
		t.Fatalf("dead letter must carry the original price, got %v", dlq.orders[1].Price)
	}
	if got := testutil.ToFloat64(reg.Processed.WithLabelValues(standard)); got != 0 {
		t.Fatalf("processed counter must not move, got %v", got)
	}
	if got := testutil.ToFloat64(reg.DeadLettered.WithLabelValues(standard)); got != 3 {
		t.Fatalf("want 3 dead-lettered, got %v", got)
	}
}

func TestHandle_AppliesMarkupOnce(t *testing.T) {
	s := store.NewInMemoryStore()
	reg := metrics.NewRegistry(nil)
	p := newProcessor(s, reg, &recordingDLQ{})
	o := model.Order{OrderID: "o1", Product: "Desk", Price: 100, Timestamp: 5, Priority: model.PriorityHigh}

	// the same delivery arriving twice
	for i := 0; i < 2; i++ {
		if err := p.Handle(context.Background(), urgent, o); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if s.Len() != 1 {
		t.Fatalf("want one record, got %d", s.Len())
	}
	got, err := s.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if math.Abs(got.Price-110) > 1e-9 {
		t.Fatalf("want price 110, got %v", got.Price)
	}
	if got.Product != "Desk" || got.Timestamp != 5 || got.Priority != model.PriorityHigh {
		t.Fatalf("other fields must be copied unchanged: %+v", got)
	}
	if c := testutil.ToFloat64(reg.Processed.WithLabelValues(urgent)); c != 2 {
		t.Fatalf("want 2 processed, got %v", c)
	}
}

func TestHandle_StorageErrorPropagates(t *testing.T) {
	s := &flakyStore{InMemoryStore: store.NewInMemoryStore(), fails: 1}
	reg := metrics.NewRegistry(nil)
	p := newProcessor(s, reg, &recordingDLQ{})
	o := model.Order{OrderID: "o1", Price: 10}

	if err := p.Handle(context.Background(), standard, o); err == nil {
		t.Fatalf("storage failure must be returned")
	}
	if got := testutil.ToFloat64(reg.Processed.WithLabelValues(standard)); got != 0 {
		t.Fatalf("processed must only count committed work, got %v", got)
	}
	if err := p.Handle(context.Background(), standard, o); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := testutil.ToFloat64(reg.Processed.WithLabelValues(standard)); got != 1 {
		t.Fatalf("want 1 processed, got %v", got)
	}
}

func TestPublishOne_RoutesAndKeysByOrderID(t *testing.T) {
	pub := &failingPublisher{}
	reg := metrics.NewRegistry(nil)
	p := NewProducer(generator.New(), testRouter, pub, reg, nil)

	high := model.Order{OrderID: "h", Priority: model.PriorityHigh, Price: 1}
	low := model.Order{OrderID: "l", Priority: model.PriorityLow, Price: 1}
	for _, o := range []model.Order{high, low} {
		if err := p.PublishOne(context.Background(), o); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if pub.sent[0].Stream != urgent || pub.sent[1].Stream != standard {
		t.Fatalf("bad routing: %+v", pub.sent)
	}
	for _, m := range pub.sent {
		if m.Key != m.Order.OrderID {
			t.Fatalf("partition key %q != order id %q", m.Key, m.Order.OrderID)
		}
	}
}

func TestSubmitBatch_Zero(t *testing.T) {
	pub := &failingPublisher{}
	p := NewProducer(generator.New(), testRouter, pub, metrics.NewRegistry(nil), nil)

	select {
	case res := <-p.SubmitBatch(context.Background(), 0):
		if res.Err != nil || res.Ack() != "sent batch of 0 orders successfully" {
			t.Fatalf("unexpected result: %+v %q", res, res.Ack())
		}
	default:
		t.Fatalf("zero batch must resolve immediately")
	}
	if pub.calls != 0 {
		t.Fatalf("zero batch must not publish, calls=%d", pub.calls)
	}
}

func TestSubmitBatch_Negative(t *testing.T) {
	p := NewProducer(generator.New(), testRouter, &failingPublisher{}, metrics.NewRegistry(nil), nil)
	res := <-p.SubmitBatch(context.Background(), -1)
	if !errors.Is(res.Err, ErrNegativeCount) {
		t.Fatalf("want ErrNegativeCount, got %v", res.Err)
	}
}

func TestSubmitBatch_AboveMaximumIsRejected(t *testing.T) {
	src := &countingSource{Generator: generator.New()}
	pub := &failingPublisher{}
	p := NewProducer(src, testRouter, pub, metrics.NewRegistry(nil), nil).WithMaxBatch(10)

	select {
	case res := <-p.SubmitBatch(context.Background(), 1<<40):
		if !errors.Is(res.Err, ErrBatchTooLarge) {
			t.Fatalf("want ErrBatchTooLarge, got %v", res.Err)
		}
		if res.Ack() == "" || res.Sent != 0 {
			t.Fatalf("unexpected result: %+v", res)
		}
	default:
		t.Fatalf("oversized batch must resolve immediately")
	}
	if src.generated.Load() != 0 || pub.calls != 0 {
		t.Fatalf("oversized batch must not generate or publish, generated=%d calls=%d", src.generated.Load(), pub.calls)
	}

	res := <-p.SubmitBatch(context.Background(), 10)
	if res.Err != nil || res.Sent != 10 {
		t.Fatalf("batch at the maximum must be sent, got %+v", res)
	}
}

func TestSubmitBatch_DefaultMaximum(t *testing.T) {
	p := NewProducer(generator.New(), testRouter, &failingPublisher{}, metrics.NewRegistry(nil), nil).WithMaxBatch(0)
	if p.MaxBatch() != DefaultMaxBatch {
		t.Fatalf("want %d, got %d", DefaultMaxBatch, p.MaxBatch())
	}
	res := <-p.SubmitBatch(context.Background(), DefaultMaxBatch+1)
	if !errors.Is(res.Err, ErrBatchTooLarge) {
		t.Fatalf("want ErrBatchTooLarge, got %v", res.Err)
	}
}

func TestSubmitBatch_GeneratesOneOrderPerSend(t *testing.T) {
	src := &countingSource{Generator: generator.New()}
	pub := &lockstepPublisher{src: src}
	p := NewProducer(src, testRouter, pub, metrics.NewRegistry(nil), nil)

	res := <-p.SubmitBatch(context.Background(), 20)
	if res.Sent != 20 || res.Failed != 0 {
		t.Fatalf("orders must be generated one per send, got %+v", res)
	}
}

func TestSubmitBatch_PartialFailureDoesNotAbort(t *testing.T) {
	pub := &failingPublisher{failAt: map[int]bool{2: true}}
	reg := metrics.NewRegistry(nil)
	p := NewProducer(generator.New(), testRouter, pub, reg, nil)

	res := <-p.SubmitBatch(context.Background(), 4)
	if res.Sent != 3 || res.Failed != 1 || len(res.Failures) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Failures[0].Stream != urgent {
		t.Fatalf("failure should name the urgent stream, got %s", res.Failures[0].Stream)
	}
	if res.Ack() != "sent batch of 4 orders successfully" {
		t.Fatalf("unexpected ack %q", res.Ack())
	}
	if got := testutil.ToFloat64(reg.PublishFailures.WithLabelValues(urgent)); got != 1 {
		t.Fatalf("want 1 publish failure, got %v", got)
	}
}

func TestSubmitBatch_FatalErrorIsSummarised(t *testing.T) {
	p := NewProducer(panickingSource{}, testRouter, &failingPublisher{}, metrics.NewRegistry(nil), nil)
	res := <-p.SubmitBatch(context.Background(), 3)
	if res.Err == nil {
		t.Fatalf("expected batch error")
	}
	if want := "error sending batch of 3 orders: batch aborted: generator exploded"; res.Ack() != want {
		t.Fatalf("want %q, got %q", want, res.Ack())
	}
}

func TestSubmitBatch_SurvivesCallerCancellation(t *testing.T) {
	pub := &failingPublisher{}
	p := NewProducer(generator.New(), testRouter, pub, metrics.NewRegistry(nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.SubmitBatch(ctx, 3)
	cancel()
	res := <-ch
	if res.Sent != 3 {
		t.Fatalf("batch must complete after caller cancels, got %+v", res)
	}
}

func TestPipeline_EndToEndBatch(t *testing.T) {
	bus := transport.NewMemoryBus(64, nil).WithRetry(transport.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond})
	s := store.NewInMemoryStore()
	reg := metrics.NewRegistry(nil)
	dlq := &recordingDLQ{}

	producer := NewProducer(generator.New(), testRouter, bus, reg, nil)
	processor := newProcessor(s, reg, dlq)
	pl := New(bus, []string{standard, urgent}, processor, producer, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pl.Run(ctx) }()

	res := <-producer.SubmitBatch(ctx, 5)
	if res.Err != nil || res.Sent != 5 {
		t.Fatalf("unexpected batch result: %+v", res)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() < 5 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Len() != 5 {
		t.Fatalf("want 5 stored orders, got %d", s.Len())
	}
	for time.Now().Before(deadline) && testutil.ToFloat64(reg.Processed.WithLabelValues(urgent)) < 5 {
		time.Sleep(2 * time.Millisecond)
	}
	if got := testutil.ToFloat64(reg.Processed.WithLabelValues(urgent)); got != 5 {
		t.Fatalf("want 5 urgent increments, got %v", got)
	}
	if got := testutil.ToFloat64(reg.Processed.WithLabelValues(standard)); got != 0 {
		t.Fatalf("standard stream must be untouched, got %v", got)
	}

	ids := map[string]bool{}
	for _, m := range bus.Published() {
		if m.Stream != urgent || m.Order.Priority != model.PriorityHigh {
			t.Fatalf("batch orders must be HIGH on the urgent stream: %+v", m)
		}
		if m.Key != m.Order.OrderID {
			t.Fatalf("partition key %q != order id %q", m.Key, m.Order.OrderID)
		}
		ids[m.Order.OrderID] = true
	}
	if len(ids) != 5 {
		t.Fatalf("want 5 distinct ids, got %d", len(ids))
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("pipeline run: %v", err)
	}
	if dlq.len() != 0 {
		t.Fatalf("no order should be dead-lettered")
	}
}

func TestPipeline_ScheduledGeneratorAndStorageRetry(t *testing.T) {
	bus := transport.NewMemoryBus(64, nil).WithRetry(transport.RetryPolicy{Initial: time.Millisecond, Max: time.Millisecond})
	s := &flakyStore{InMemoryStore: store.NewInMemoryStore(), fails: 2}
	reg := metrics.NewRegistry(nil)

	producer := NewProducer(generator.New(), testRouter, bus, reg, nil)
	pl := New(bus, []string{standard, urgent}, newProcessor(s, reg, &recordingDLQ{}), producer, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pl.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("pipeline run: %v", err)
	}
	if s.Len() < 3 {
		t.Fatalf("scheduled orders should be stored despite transient storage errors, got %d", s.Len())
	}
}
