package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/model"
)

// PebbleStore implements Store using PebbleDB. Values are JSON encoded orders keyed by order id.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		MemTableSize:             64 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    4,
		L0StopWritesThreshold:    12,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open: %w", err)
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func (p *PebbleStore) Upsert(_ context.Context, rec model.PersistedOrder) error {
	if rec.OrderID == "" {
		return errEmptyID
	}
	val, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", rec.OrderID, err)
	}
	if err := p.db.Set([]byte(rec.OrderID), val, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %s: %w", rec.OrderID, err)
	}
	return nil
}

func (p *PebbleStore) Get(_ context.Context, orderID string) (model.PersistedOrder, error) {
	v, closer, err := p.db.Get([]byte(orderID))
	if errors.Is(err, pebble.ErrNotFound) {
		return model.PersistedOrder{}, ErrNotFound
	}
	if err != nil {
		return model.PersistedOrder{}, fmt.Errorf("pebble get %s: %w", orderID, err)
	}
	defer closer.Close()
	var rec model.PersistedOrder
	if err := jsoncodec.Unmarshal(v, &rec); err != nil {
		return model.PersistedOrder{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return rec, nil
}

func (p *PebbleStore) Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return fmt.Errorf("pebble iter: %w", err)
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec model.PersistedOrder
		if err := jsoncodec.Unmarshal(it.Value(), &rec); err != nil {
			return fmt.Errorf("decode %q: %w", it.Key(), err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return it.Error()
}
