package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements orders.Store on Postgres. Stock is decremented with a
// single conditional UPDATE, so concurrent reservations of one product are
// serialized by the row lock and stock can never go below zero.
type Store struct {
	pool *pgxpool.Pool // nil when bound to a transaction
	q    querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := s.q.QueryRow(ctx, `SELECT id, name, price::text, stock FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &price, &p.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	if err != nil {
		return orders.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	return p, nil
}

func (s *Store) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	ct, err := s.q.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, id, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// LockProducts takes the row locks of ids in id order. Outside a
// transaction the locks are released at once.
func (s *Store) LockProducts(ctx context.Context, ids []string) error {
	rows, err := s.q.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	rows, err := s.q.Query(ctx, `SELECT id, name, price::text, stock FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		var (
			p     orders.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price, &p.Stock); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) InsertOrder(ctx context.Context, o *orders.Order) error {
	addr, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx, `
		INSERT INTO orders(id, buyer_id, shipping_address, payment_method, total_amount,
		                   payment_status, fulfillment_status, created_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6, $7, $8)`,
		o.ID, o.BuyerID, addr, o.PaymentMethod, o.TotalAmount.String(),
		string(o.PaymentStatus), string(o.FulfillmentStatus), o.CreatedAt)
	if err != nil {
		return err
	}

	for i, it := range o.Items {
		_, err = s.q.Exec(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, quantity, price)
			VALUES ($1, $2, $3, $4, $5::text::numeric)`,
			o.ID, i, it.ProductID, it.Quantity, it.Price.String())
		if err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id::text, buyer_id, shipping_address, payment_method, total_amount::text,
	payment_status, COALESCE(payment_intent_id, ''), COALESCE(payment_reference, ''), paid_at,
	fulfillment_status, created_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o             orders.Order
		addr          []byte
		total         string
		payStatus     string
		fulfillStatus string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &addr, &o.PaymentMethod, &total,
		&payStatus, &o.PaymentIntentID, &o.PaymentReference, &o.PaidAt,
		&fulfillStatus, &o.CreatedAt); err != nil {
		return orders.Order{}, err
	}
	if len(addr) > 0 {
		if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
			return orders.Order{}, fmt.Errorf("order %s shipping address: %w", o.ID, err)
		}
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return orders.Order{}, fmt.Errorf("order %s total: %w", o.ID, err)
	}
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.FulfillmentStatus = orders.FulfillmentStatus(fulfillStatus)
	o.CreatedAt = o.CreatedAt.UTC()
	return o, nil
}

// orderKey returns id in canonical form. Ids that are not UUIDs name no
// order; comparing the uuid column itself keeps lookups on the primary key.
func orderKey(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	key, ok := orderKey(id)
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	o, err := scanOrder(s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.Order{}, err
	}
	list := []orders.Order{o}
	if err := s.loadItems(ctx, list); err != nil {
		return orders.Order{}, err
	}
	return list[0], nil
}

func (s *Store) ListOrders(ctx context.Context, buyerID string) ([]orders.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if buyerID == "" {
		rows, err = s.q.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id`)
	} else {
		rows, err = s.q.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1
			ORDER BY created_at DESC, id`, buyerID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []orders.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if err := s.loadItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadItems(ctx context.Context, list []orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[string]int, len(list))
	for i, o := range list {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := s.q.Query(ctx, `
		SELECT order_id::text, product_id, quantity, price::text
		FROM order_items WHERE order_id = ANY($1::text[]::uuid[])
		ORDER BY order_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      orders.LineItem
			price   string
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return err
		}
		i := index[orderID]
		list[i].Items = append(list[i].Items, it)
	}
	return rows.Err()
}

func (s *Store) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	key, ok := orderKey(id)
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE orders SET payment_intent_id = $2, updated_at = now() WHERE id = $1`, key, intentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return nil
}

func (s *Store) MarkPaid(ctx context.Context, id, reference string, at time.Time) (bool, error) {
	key, ok := orderKey(id)
	if !ok {
		return false, nil
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE orders
		SET payment_status = 'paid', payment_reference = $2, paid_at = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, key, reference, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	key, ok := orderKey(id)
	if !ok {
		return false, nil
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE orders SET payment_status = 'failed', updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'`, key)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) SetFulfillmentStatus(ctx context.Context, id string, from, to orders.FulfillmentStatus) (bool, error) {
	key, ok := orderKey(id)
	if !ok {
		return false, nil
	}
	ct, err := s.q.Exec(ctx, `
		UPDATE orders SET fulfillment_status = $3, updated_at = now()
		WHERE id = $1 AND fulfillment_status = $2`, key, string(from), string(to))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

var (
	_ orders.Store         = (*Store)(nil)
	_ orders.ProductLocker = (*Store)(nil)
)
