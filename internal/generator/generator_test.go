package generator

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"orderflow/internal/model"
)

func TestGenerateOne_Fields(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	g := New(WithRand(rand.New(rand.NewSource(1))), WithClock(func() time.Time { return fixed }))

	seen := map[model.Priority]int{}
	for i := 0; i < 500; i++ {
		o := g.GenerateOne()
		if o.OrderID == "" || o.Product == "" {
			t.Fatalf("empty id or product: %+v", o)
		}
		if o.Price < 10 || o.Price >= 1000 {
			t.Fatalf("price out of range: %v", o.Price)
		}
		if cents := o.Price * 100; math.Abs(cents-math.Round(cents)) > 1e-6 {
			t.Fatalf("price has more than 2 decimals: %v", o.Price)
		}
		if o.Timestamp != fixed.UnixMilli() {
			t.Fatalf("want timestamp %d, got %d", fixed.UnixMilli(), o.Timestamp)
		}
		seen[o.Priority]++
	}
	if seen[model.PriorityHigh] == 0 || seen[model.PriorityLow] == 0 {
		t.Fatalf("expected both priorities, got %v", seen)
	}
}

func TestGenerateBatch_AllHighDistinctIDs(t *testing.T) {
	g := New()
	batch := g.GenerateBatch(5)
	if len(batch) != 5 {
		t.Fatalf("want 5 orders, got %d", len(batch))
	}
	ids := map[string]bool{}
	for _, o := range batch {
		if o.Priority != model.PriorityHigh {
			t.Fatalf("want HIGH, got %s", o.Priority)
		}
		if ids[o.OrderID] {
			t.Fatalf("duplicate id %s", o.OrderID)
		}
		ids[o.OrderID] = true
	}
}

func TestGenerateBatch_ConfiguredPriority(t *testing.T) {
	g := New(WithBatchPriority(model.PriorityLow))
	for _, o := range g.GenerateBatch(3) {
		if o.Priority != model.PriorityLow {
			t.Fatalf("want LOW, got %s", o.Priority)
		}
	}
	if got := g.GenerateBatch(0); len(got) != 0 {
		t.Fatalf("want empty batch, got %d", len(got))
	}
}

func TestNextBatchOrder_UsesBatchPriority(t *testing.T) {
	g := New(WithBatchPriority(model.PriorityLow))
	a, b := g.NextBatchOrder(), g.NextBatchOrder()
	if a.Priority != model.PriorityLow || b.Priority != model.PriorityLow {
		t.Fatalf("want LOW, got %s and %s", a.Priority, b.Priority)
	}
	if a.OrderID == b.OrderID {
		t.Fatalf("duplicate id %s", a.OrderID)
	}
}

func TestRun_EmitsUntilCancelled(t *testing.T) {
	g := New()
	ctx, cancel := context.WithCancel(context.Background())
	var n atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- g.Run(ctx, 5*time.Millisecond, func(context.Context, model.Order) {
			if n.Add(1) == 3 {
				cancel()
			}
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if n.Load() < 3 {
		t.Fatalf("want at least 3 ticks, got %d", n.Load())
	}
}
