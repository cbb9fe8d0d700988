package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const upsertOrderSQL = `
INSERT INTO orders (order_id, product, price, created_ms, priority)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (order_id) DO UPDATE SET
    product    = EXCLUDED.product,
    price      = EXCLUDED.price,
    created_ms = EXCLUDED.created_ms,
    priority   = EXCLUDED.priority,
    updated_at = now()`

// PostgresStore implements Store on a pgx pool. The orders table comes from the embedded migrations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Migrate applies the embedded schema migrations to dsn. An up-to-date schema is not an error.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// NewPostgresStore migrates the schema and opens a pool against dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rec model.PersistedOrder) error {
	if rec.OrderID == "" {
		return errEmptyID
	}
	_, err := s.pool.Exec(ctx, upsertOrderSQL,
		rec.OrderID, rec.Product, rec.Price, rec.Timestamp, string(rec.Priority))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", rec.OrderID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, orderID string) (model.PersistedOrder, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT order_id, product, price, created_ms, priority FROM orders WHERE order_id=$1`, orderID)
	rec, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PersistedOrder{}, ErrNotFound
	}
	if err != nil {
		return model.PersistedOrder{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return rec, nil
}

func (s *PostgresStore) Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT order_id, product, price, created_ms, priority FROM orders ORDER BY order_id`)
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanOrder(row pgx.Row) (model.PersistedOrder, error) {
	var rec model.PersistedOrder
	var priority string
	if err := row.Scan(&rec.OrderID, &rec.Product, &rec.Price, &rec.Timestamp, &priority); err != nil {
		return model.PersistedOrder{}, err
	}
	rec.Priority = model.Priority(priority)
	return rec, nil
}
