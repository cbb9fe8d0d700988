package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/model"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Upsert(_ context.Context, rec model.PersistedOrder) error {
	if rec.OrderID == "" {
		return errEmptyID
	}
	val, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", rec.OrderID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rec.OrderID), val)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", rec.OrderID, err)
	}
	return nil
}

func (b *BadgerStore) Get(_ context.Context, orderID string) (model.PersistedOrder, error) {
	var rec model.PersistedOrder
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(orderID))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return jsoncodec.Unmarshal(v, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.PersistedOrder{}, ErrNotFound
	}
	if err != nil {
		return model.PersistedOrder{}, fmt.Errorf("badger get %s: %w", orderID, err)
	}
	return rec, nil
}

func (b *BadgerStore) Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec model.PersistedOrder
			if err := jsoncodec.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
