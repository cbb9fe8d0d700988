package generator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/model"
)

const (
	minPrice = 10.0
	maxPrice = 1000.0
)

var (
	adjectives = []string{"Compact", "Deluxe", "Ergonomic", "Rustic", "Sleek", "Sturdy", "Vintage", "Wireless"}
	materials  = []string{"Bamboo", "Ceramic", "Cotton", "Granite", "Leather", "Steel", "Walnut", "Wool"}
	nouns      = []string{"Chair", "Desk", "Headphones", "Keyboard", "Lamp", "Mug", "Backpack", "Speaker"}
)

// Generator produces synthetic orders. It is safe for concurrent use.
type Generator struct {
	mu            sync.Mutex
	rnd           *rand.Rand
	now           func() time.Time
	newID         func() string
	batchPriority model.Priority
}

type Option func(*Generator)

// WithRand swaps the random source, mostly for deterministic tests.
func WithRand(r *rand.Rand) Option { return func(g *Generator) { g.rnd = r } }

func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

func WithIDFunc(f func() string) Option { return func(g *Generator) { g.newID = f } }

// WithBatchPriority sets the priority stamped on every order of a batch.
func WithBatchPriority(p model.Priority) Option { return func(g *Generator) { g.batchPriority = p } }

func New(opts ...Option) *Generator {
	g := &Generator{
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
		newID:         uuid.NewString,
		batchPriority: model.PriorityHigh,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// GenerateOne returns an order with a random product, price and priority.
func (g *Generator) GenerateOne() model.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := model.PriorityLow
	if g.rnd.Intn(2) == 0 {
		p = model.PriorityHigh
	}
	return g.build(p)
}

// GenerateBatch returns count orders, all carrying the batch priority.
// A non-positive count yields an empty batch.
func (g *Generator) GenerateBatch(count int) []model.Order {
	if count <= 0 {
		return nil
	}
	out := make([]model.Order, 0, min(count, 1024))
	for i := 0; i < count; i++ {
		out = append(out, g.NextBatchOrder())
	}
	return out
}

// NextBatchOrder returns a single order carrying the batch priority.
func (g *Generator) NextBatchOrder() model.Order {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(g.batchPriority)
}

func (g *Generator) build(p model.Priority) model.Order {
	return model.Order{
		OrderID:   g.newID(),
		Product:   g.product(),
		Price:     g.price(),
		Timestamp: g.now().UnixMilli(),
		Priority:  p,
	}
}

func (g *Generator) product() string {
	return adjectives[g.rnd.Intn(len(adjectives))] + " " +
		materials[g.rnd.Intn(len(materials))] + " " +
		nouns[g.rnd.Intn(len(nouns))]
}

// price is uniform in [10, 1000) with two decimals.
func (g *Generator) price() float64 {
	v := math.Round((minPrice+g.rnd.Float64()*(maxPrice-minPrice))*100) / 100
	if v >= maxPrice {
		v = maxPrice - 0.01
	}
	return v
}

// Run calls fn with a fresh order on every tick until ctx is done.
// fn runs on the ticker goroutine; a slow fn delays later ticks but never stacks them.
func (g *Generator) Run(ctx context.Context, interval time.Duration, fn func(context.Context, model.Order)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx, g.GenerateOne())
		}
	}
}
