package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"orderflow/internal/model"
)

var ErrNotFound = errors.New("order not found")

// Store persists enriched orders keyed by order id.
// Upsert overwrites the whole record; a record is never partially written.
type Store interface {
	Upsert(ctx context.Context, rec model.PersistedOrder) error
	Get(ctx context.Context, orderID string) (model.PersistedOrder, error)
	Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error
	Close() error
}

// InMemoryStore is a simple thread-safe map store.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.PersistedOrder
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]model.PersistedOrder)}
}

func (s *InMemoryStore) Upsert(_ context.Context, rec model.PersistedOrder) error {
	if rec.OrderID == "" {
		return errEmptyID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.OrderID] = rec
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, orderID string) (model.PersistedOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[orderID]
	if !ok {
		return model.PersistedOrder{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) Range(_ context.Context, fn func(rec model.PersistedOrder) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.data {
		if err := fn(v); err != nil {
			return fmt.Errorf("range callback failed: %w", err)
		}
	}
	return nil
}

// Len reports the number of stored orders.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *InMemoryStore) Close() error { return nil }

var errEmptyID = errors.New("order id is empty")
