package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"orderflow/internal/jsoncodec"
	"orderflow/internal/model"
)

const redisKeyPrefix = "order:"

func redisKey(orderID string) string { return redisKeyPrefix + orderID }

// RedisStore keeps each order as a JSON string under order:{id}.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Upsert(ctx context.Context, rec model.PersistedOrder) error {
	if rec.OrderID == "" {
		return errEmptyID
	}
	val, err := jsoncodec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", rec.OrderID, err)
	}
	if err := s.rdb.Set(ctx, redisKey(rec.OrderID), val, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", rec.OrderID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (model.PersistedOrder, error) {
	val, err := s.rdb.Get(ctx, redisKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.PersistedOrder{}, ErrNotFound
	}
	if err != nil {
		return model.PersistedOrder{}, fmt.Errorf("redis get %s: %w", orderID, err)
	}
	var rec model.PersistedOrder
	if err := jsoncodec.Unmarshal(val, &rec); err != nil {
		return model.PersistedOrder{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return rec, nil
}

func (s *RedisStore) Range(ctx context.Context, fn func(rec model.PersistedOrder) error) error {
	iter := s.rdb.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rec, err := s.Get(ctx, strings.TrimPrefix(iter.Val(), redisKeyPrefix))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *RedisStore) Close() error { return s.rdb.Close() }
