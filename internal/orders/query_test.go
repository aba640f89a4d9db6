package orders_test

import (
	"context"
	"testing"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListOrders(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})
	ctx := context.Background()

	a1, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	b1, _ := f.svc.PlaceOrder(ctx, bob, placeReq(item("P", 1)))
	a2, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))

	mine, err := f.svc.ListOrdersForBuyer(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a2.ID, mine[0].ID, "newest first")
	assert.Equal(t, a1.ID, mine[1].ID)

	_, err = f.svc.ListOrdersForBuyer(ctx, auth.Identity{})
	assert.ErrorIs(t, err, orders.ErrAuth)

	_, err = f.svc.ListAllOrders(ctx, alice)
	assert.ErrorIs(t, err, orders.ErrAuth)

	all, err := f.svc.ListAllOrders(ctx, operator)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a2.ID, b1.ID, a1.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	none, err := f.svc.ListOrdersForBuyer(ctx, auth.Identity{UserID: "carol"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestGetOrder_OwnershipAndCache(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})
	cache := newMemCache()
	f.svc.Cache = cache
	ctx := context.Background()

	o, err := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	require.NoError(t, err)

	_, err = f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	_, err = f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	_, err = f.svc.GetOrder(ctx, bob, o.ID)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	got, err := f.svc.GetOrder(ctx, operator, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: o.ID, PaymentRef: "pi", Outcome: orders.OutcomePaid})
	require.NoError(t, err)
	got, err = f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus, "mutations invalidate the cache")

	_, err = f.svc.GetOrder(ctx, alice, "")
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
	_, err = f.svc.GetOrder(ctx, auth.Identity{}, o.ID)
	assert.ErrorIs(t, err, orders.ErrAuth)
}

func TestGetOrder_ReadOverlappingPaymentIsNotCached(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})
	cache := newMemCache()
	f.svc.Cache = cache
	ctx := context.Background()

	o, err := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	require.NoError(t, err)

	// the payment lands after the read loaded the order, before it fills the cache
	cache.beforeSet = func() {
		cache.beforeSet = nil
		_, err := f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: o.ID, PaymentRef: "pi_1", Outcome: orders.OutcomePaid})
		require.NoError(t, err)
	}
	got, err := f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPending, got.PaymentStatus, "the read itself saw the earlier state")

	_, cached := cache.cached(o.ID)
	assert.False(t, cached, "the earlier state is not cached")

	got, err = f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)
}

func TestListProducts(t *testing.T) {
	f := newFixture(
		orders.Product{ID: "b", Price: dec("2"), Stock: 1},
		orders.Product{ID: "a", Price: dec("1"), Stock: 1},
	)
	ps, err := f.svc.ListProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "a", ps[0].ID)
}
