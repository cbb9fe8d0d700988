package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orderflow/internal/model"
)

// SmokeSave upserts a throwaway record to prove the backend accepts writes.
func SmokeSave(ctx context.Context, s interface {
	Upsert(ctx context.Context, rec model.PersistedOrder) error
}) (model.PersistedOrder, error) {
	rec := model.PersistedOrder{
		OrderID:   uuid.NewString(),
		Product:   "Test Product",
		Price:     100.0,
		Timestamp: time.Now().UnixMilli(),
		Priority:  model.PriorityHigh,
	}
	if err := s.Upsert(ctx, rec); err != nil {
		return rec, fmt.Errorf("smoke save: %w", err)
	}
	return rec, nil
}
