package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 8
	}
	cfg.MaxConns = maxConns
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		price      NUMERIC(12,2) NOT NULL CHECK (price >= 0),
		stock      INTEGER NOT NULL CHECK (stock >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id                 UUID PRIMARY KEY,
		buyer_id           TEXT NOT NULL,
		shipping_address   JSONB NOT NULL DEFAULT '{}',
		payment_method     TEXT NOT NULL,
		total_amount       NUMERIC(14,2) NOT NULL,
		payment_status     TEXT NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('pending','paid','failed')),
		payment_intent_id  TEXT,
		payment_reference  TEXT,
		paid_at            TIMESTAMPTZ,
		fulfillment_status TEXT NOT NULL DEFAULT 'processing'
			CHECK (fulfillment_status IN ('processing','shipped','delivered','cancelled')),
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_buyer_created ON orders(buyer_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id   UUID NOT NULL REFERENCES orders(id),
		line_no    INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity   INTEGER NOT NULL CHECK (quantity >= 1),
		price      NUMERIC(12,2) NOT NULL,
		PRIMARY KEY (order_id, line_no)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}
