// Package memstore is an in-process orders.Store for tests and local runs.
// Transactions are serialized and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type Store struct {
	mu   sync.Mutex
	data *state

	// FailInsert, when set, is returned by InsertOrder.
	FailInsert error
}

type state struct {
	products map[string]orders.Product
	orders   map[string]orders.Order
	seq      map[string]int // insertion order, breaks CreatedAt ties
}

func New(products ...orders.Product) *Store {
	s := &Store{data: &state{
		products: map[string]orders.Product{},
		orders:   map[string]orders.Order{},
		seq:      map[string]int{},
	}}
	for _, p := range products {
		s.data.products[p.ID] = p
	}
	return s
}

// PutProduct inserts or replaces a catalog entry.
func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getProduct(id)
}

func (s *Store) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.decrement(id, qty)
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listProducts(), nil
}

func (s *Store) InsertOrder(ctx context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInsert != nil {
		return s.FailInsert
	}
	return s.data.insert(o)
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.getOrder(id)
}

func (s *Store) ListOrders(ctx context.Context, buyerID string) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listOrders(buyerID), nil
}

func (s *Store) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.setIntent(id, intentID)
}

func (s *Store) MarkPaid(ctx context.Context, id, reference string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markPaid(id, reference, at), nil
}

func (s *Store) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.markFailed(id), nil
}

func (s *Store) SetFulfillmentStatus(ctx context.Context, id string, from, to orders.FulfillmentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.setFulfillment(id, from, to), nil
}

// InTx holds the store lock for the whole of fn. On error the state taken
// before fn ran is put back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, &txStore{data: s.data, failInsert: s.FailInsert}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// txStore works on the locked state directly.
type txStore struct {
	data       *state
	failInsert error
}

func (t *txStore) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return t.data.getProduct(id)
}

func (t *txStore) DecrementStock(ctx context.Context, id string, qty int) (bool, error) {
	return t.data.decrement(id, qty)
}

func (t *txStore) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return t.data.listProducts(), nil
}

func (t *txStore) InsertOrder(ctx context.Context, o *orders.Order) error {
	if t.failInsert != nil {
		return t.failInsert
	}
	return t.data.insert(o)
}

func (t *txStore) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return t.data.getOrder(id)
}

func (t *txStore) ListOrders(ctx context.Context, buyerID string) ([]orders.Order, error) {
	return t.data.listOrders(buyerID), nil
}

func (t *txStore) SetPaymentIntent(ctx context.Context, id, intentID string) error {
	return t.data.setIntent(id, intentID)
}

func (t *txStore) MarkPaid(ctx context.Context, id, reference string, at time.Time) (bool, error) {
	return t.data.markPaid(id, reference, at), nil
}

func (t *txStore) MarkPaymentFailed(ctx context.Context, id string) (bool, error) {
	return t.data.markFailed(id), nil
}

func (t *txStore) SetFulfillmentStatus(ctx context.Context, id string, from, to orders.FulfillmentStatus) (bool, error) {
	return t.data.setFulfillment(id, from, to), nil
}

func (t *txStore) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Store) error) error {
	return fn(ctx, t)
}

func (d *state) getProduct(id string) (orders.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return orders.Product{}, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	return p, nil
}

func (d *state) decrement(id string, qty int) (bool, error) {
	p, ok := d.products[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", orders.ErrProductNotFound, id)
	}
	if qty <= 0 || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	d.products[id] = p
	return true, nil
}

func (d *state) listProducts() []orders.Product {
	out := make([]orders.Product, 0, len(d.products))
	for _, p := range d.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *state) insert(o *orders.Order) error {
	if _, exists := d.orders[o.ID]; exists {
		return fmt.Errorf("memstore: order %s already exists", o.ID)
	}
	cp := *o
	cp.Items = append([]orders.LineItem(nil), o.Items...)
	d.orders[o.ID] = cp
	d.seq[o.ID] = len(d.seq)
	return nil
}

func (d *state) getOrder(id string) (orders.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return orders.Order{}, fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	return copyOrder(o), nil
}

func (d *state) setIntent(id, intentID string) error {
	o, ok := d.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", orders.ErrOrderNotFound, id)
	}
	o.PaymentIntentID = intentID
	d.orders[id] = o
	return nil
}

func (d *state) markPaid(id, reference string, at time.Time) bool {
	o, ok := d.orders[id]
	if !ok || o.PaymentStatus != orders.PaymentPending {
		return false
	}
	o.PaymentStatus = orders.PaymentPaid
	o.PaymentReference = reference
	o.PaidAt = &at
	d.orders[id] = o
	return true
}

func (d *state) markFailed(id string) bool {
	o, ok := d.orders[id]
	if !ok || o.PaymentStatus != orders.PaymentPending {
		return false
	}
	o.PaymentStatus = orders.PaymentFailed
	d.orders[id] = o
	return true
}

func (d *state) setFulfillment(id string, from, to orders.FulfillmentStatus) bool {
	o, ok := d.orders[id]
	if !ok || o.FulfillmentStatus != from {
		return false
	}
	o.FulfillmentStatus = to
	d.orders[id] = o
	return true
}

func (d *state) listOrders(buyerID string) []orders.Order {
	out := []orders.Order{}
	for _, o := range d.orders {
		if buyerID == "" || o.BuyerID == buyerID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return d.seq[out[i].ID] > d.seq[out[j].ID]
	})
	return out
}

func (d *state) clone() *state {
	c := &state{
		products: make(map[string]orders.Product, len(d.products)),
		orders:   make(map[string]orders.Order, len(d.orders)),
		seq:      make(map[string]int, len(d.seq)),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.seq {
		c.seq[k] = v
	}
	return c
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.LineItem(nil), o.Items...)
	if o.PaidAt != nil {
		t := *o.PaidAt
		o.PaidAt = &t
	}
	return o
}

var (
	_ orders.Store = (*Store)(nil)
	_ orders.Store = (*txStore)(nil)
)
