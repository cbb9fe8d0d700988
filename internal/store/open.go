package store

import (
	"context"
	"fmt"

	"orderflow/internal/config"
)

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case "memory":
		return NewInMemoryStore(), nil
	case "pebble":
		var p *PebbleStore
		p, err = NewPebbleStore(cfg.PebbleDir)
		s = p
	case "badger":
		var b *BadgerStore
		b, err = NewBadgerStore(cfg.BadgerDir)
		s = b
	case "postgres":
		var pg *PostgresStore
		pg, err = NewPostgresStore(ctx, cfg.PostgresDSN)
		s = pg
	case "redis":
		var r *RedisStore
		r, err = NewRedisStore(ctx, cfg.RedisAddr)
		s = r
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
