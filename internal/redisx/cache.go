package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache keeps whole orders as JSON for GET /orders/{id}. Every Delete
// bumps a per-order counter; Set only fills the entry while that counter
// still matches the stamp handed out by the Get that missed.
type OrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewOrderCache(rdb *redis.Client, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func (c *OrderCache) Get(ctx context.Context, id string) (orders.Order, bool, int64, error) {
	key := fmt.Sprintf(KeyOrder, id)
	var (
		entry *redis.StringCmd
		gen   *redis.StringCmd
	)
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		entry = p.Get(ctx, key)
		gen = p.Get(ctx, fmt.Sprintf(KeyOrderGen, id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return orders.Order{}, false, 0, err
	}
	stamp, err := genOf(gen)
	if err != nil {
		return orders.Order{}, false, 0, err
	}

	b, err := entry.Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, stamp, nil
	}
	if err != nil {
		return orders.Order{}, false, 0, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		// corrupt entry, treat as a miss
		_ = c.rdb.Del(ctx, key).Err()
		return orders.Order{}, false, stamp, nil
	}
	return o, true, stamp, nil
}

// Set is skipped, without error, when the order was invalidated after stamp
// was read.
func (c *OrderCache) Set(ctx context.Context, o orders.Order, stamp int64) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	genKey := fmt.Sprintf(KeyOrderGen, o.ID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := genOf(tx.Get(ctx, genKey))
		if err != nil {
			return err
		}
		if cur != stamp {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *OrderCache) Delete(ctx context.Context, id string) error {
	genKey := fmt.Sprintf(KeyOrderGen, id)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, c.ttl+time.Hour)
		p.Del(ctx, fmt.Sprintf(KeyOrder, id))
		return nil
	})
	return err
}

var errStale = errors.New("order cache: invalidated since read")

func genOf(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

var _ orders.OrderCache = (*OrderCache)(nil)
