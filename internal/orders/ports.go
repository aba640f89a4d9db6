package orders

import (
	"context"
	"time"
)

// Catalog is the product side of the store. DecrementStock must be an atomic
// decrement-if-sufficient: it reports false, and changes nothing, when the
// product holds fewer than qty units.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (Product, error)
	DecrementStock(ctx context.Context, id string, qty int) (bool, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// ProductLocker is implemented by stores whose stock decrements take row
// locks inside a transaction. Reserve locks all products of a request up
// front, in id order, so two placements naming the same products in
// different orders cannot deadlock.
type ProductLocker interface {
	LockProducts(ctx context.Context, ids []string) error
}

// Ledger persists orders. The Mark*/Set* methods are compare-and-set on the
// current status and report whether they applied.
type Ledger interface {
	InsertOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrders returns orders newest first; an empty buyerID lists all.
	ListOrders(ctx context.Context, buyerID string) ([]Order, error)
	SetPaymentIntent(ctx context.Context, id, intentID string) error
	MarkPaid(ctx context.Context, id, reference string, at time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (bool, error)
	SetFulfillmentStatus(ctx context.Context, id string, from, to FulfillmentStatus) (bool, error)
}

type Store interface {
	Catalog
	Ledger
	// InTx runs fn against a Store bound to one transaction. Every mutation
	// made through tx is rolled back when fn returns an error.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// IntentRequest asks the gateway to create a payment intent.
type IntentRequest struct {
	OrderID         string
	AmountMinor     int64
	Currency        string
	PaymentMethodID string
	Description     string
}

type Intent struct {
	ID           string
	ClientSecret string
	Outcome      PaymentOutcome
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// Idempotency guards order placement against client retries.
type Idempotency interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, orderID string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}

// OrderCache holds whole orders for reads. On a miss Get returns a stamp;
// Set stores the order only if the entry has not been deleted since that
// stamp was taken, so a read that overlapped a mutation never caches the
// state from before it.
type OrderCache interface {
	Get(ctx context.Context, id string) (o Order, hit bool, stamp int64, err error)
	Set(ctx context.Context, o Order, stamp int64) error
	Delete(ctx context.Context, id string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, ev Envelope) error
}
