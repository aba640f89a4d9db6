package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup marks consumed event ids so redelivered messages are skipped.
type Dedup struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service, ttl: TTLDedup}
}

// Claim reports true the first time an event id is seen.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, eventID), "1", d.ttl).Result()
}

// Release forgets an event id so a failed message can be retried.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, eventID)).Err()
}
