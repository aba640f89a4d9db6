package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore remembers which order a buyer's Idempotency-Key produced.
// TryLock claims the key for the duration of one placement attempt.
// The lock and the remembered order id expire independently: ttl applies to
// the remembered id, the lock lives for TTLIdempotencyLock.
type IdempotencyStore struct {
	rdb     *redis.Client
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, lockTTL: TTLIdempotencyLock}
}

func (s *IdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	return s.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemLock, scope, key), "1", s.lockTTL).Result()
}

func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(KeyIdemLock, scope, key)).Err()
}

func (s *IdempotencyStore) Remember(ctx context.Context, scope, key, orderID string) error {
	return s.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrder, scope, key), orderID, s.ttl).Err()
}

func (s *IdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrder, scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

var _ orders.Idempotency = (*IdempotencyStore)(nil)
