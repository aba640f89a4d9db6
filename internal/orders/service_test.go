package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrder_ConcurrentLastUnits(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Name: "Lamp", Price: dec("10"), Stock: 2})

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 2)))
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, orders.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 0, f.stock(t, "P"))

	list, err := f.svc.ListAllOrders(context.Background(), operator)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Items[0].Quantity)
}

func TestPlaceOrder_StockNeverNegative(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 1))); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 0, f.stock(t, "P"))
}

func TestPlaceOrder_PriceSnapshot(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Name: "Mug", Price: dec("10"), Stock: 5})

	o, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 3)))
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(o.TotalAmount))

	f.store.PutProduct(orders.Product{ID: "P", Name: "Mug", Price: dec("15"), Stock: 2})

	got, err := f.svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(got.TotalAmount))
	assert.True(t, dec("10").Equal(got.Items[0].Price))
}

func TestPlaceOrder_TotalIsSumOfLines(t *testing.T) {
	f := newFixture(
		orders.Product{ID: "a", Price: dec("0.10"), Stock: 100},
		orders.Product{ID: "b", Price: dec("0.20"), Stock: 100},
		orders.Product{ID: "c", Price: dec("19.99"), Stock: 100},
	)
	o, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("a", 3), item("b", 1), item("c", 7)))
	require.NoError(t, err)

	assert.True(t, dec("140.43").Equal(o.TotalAmount), o.TotalAmount.String())
	assert.True(t, orders.Total(o.Items).Equal(o.TotalAmount))
	require.Len(t, o.Items, 3)
	assert.Equal(t, "c", o.Items[2].ProductID)
}

func TestPlaceOrder_DuplicateProductLines(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("2"), Stock: 5})

	o, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 2), item("P", 3)))
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)
	assert.True(t, dec("10").Equal(o.TotalAmount))
	assert.Equal(t, 0, f.stock(t, "P"))

	_, err = f.svc.PlaceOrder(context.Background(), bob, placeReq(item("P", 0)))
	assert.ErrorIs(t, err, orders.ErrInvalidInput)
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 3})

	_, err := f.svc.PlaceOrder(context.Background(), alice, placeReq())
	require.ErrorIs(t, err, orders.ErrInvalidInput)
	assert.Equal(t, 3, f.stock(t, "P"))

	list, err := f.svc.ListAllOrders(context.Background(), operator)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, f.events.types())
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 3})
	ctx := context.Background()

	_, err := f.svc.PlaceOrder(ctx, auth.Identity{}, placeReq(item("P", 1)))
	assert.ErrorIs(t, err, orders.ErrAuth)

	req := placeReq(item("P", 1))
	req.PaymentMethod = " "
	_, err = f.svc.PlaceOrder(ctx, alice, req)
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.PlaceOrder(ctx, alice, placeReq(item("", 1)))
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.PlaceOrder(ctx, alice, placeReq(item("P", -1)))
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	assert.Equal(t, 3, f.stock(t, "P"))
}

func TestPlaceOrder_RollsBackEarlierLines(t *testing.T) {
	f := newFixture(
		orders.Product{ID: "a", Price: dec("1"), Stock: 5},
		orders.Product{ID: "b", Price: dec("1"), Stock: 1},
	)

	_, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("a", 2), item("b", 2)))
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	var le *orders.LineError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Line)
	assert.Equal(t, "b", le.ProductID)
	assert.Equal(t, 2, le.Requested)
	assert.Equal(t, 1, le.Available)

	assert.Equal(t, 5, f.stock(t, "a"))
	assert.Equal(t, 1, f.stock(t, "b"))

	_, err = f.svc.PlaceOrder(context.Background(), alice, placeReq(item("a", 1), item("ghost", 1)))
	require.ErrorIs(t, err, orders.ErrProductNotFound)
	assert.Equal(t, 5, f.stock(t, "a"))
}

func TestPlaceOrder_InsertFailureRollsBack(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 3})
	f.store.FailInsert = errors.New("disk full")

	_, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 2)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, orders.ErrPartialFailure)
	assert.Equal(t, 3, f.stock(t, "P"))
}

func TestPlaceOrder_CommitFailureIsPartial(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 3})
	f.svc.Store = commitFails{f.store}

	_, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 1)))
	require.ErrorIs(t, err, orders.ErrPartialFailure)
	require.ErrorIs(t, err, errCommit)
	assert.Equal(t, "partial_failure", orders.KindOf(err))

	var pf *orders.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "place_order", pf.Op)
	assert.NotEmpty(t, pf.OrderID)
	assert.Empty(t, f.events.types())
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 3})
	idem := newMemIdem()
	f.svc.Idem = idem
	ctx := context.Background()

	req := placeReq(item("P", 1))
	req.IdempotencyKey = "k1"
	first, err := f.svc.PlaceOrder(ctx, alice, req)
	require.NoError(t, err)
	again, err := f.svc.PlaceOrder(ctx, alice, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, f.stock(t, "P"))

	other, err := f.svc.PlaceOrder(ctx, bob, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "keys are per buyer")

	locked, _ := idem.TryLock(ctx, "alice", "k2")
	require.True(t, locked)
	req.IdempotencyKey = "k2"
	_, err = f.svc.PlaceOrder(ctx, alice, req)
	assert.ErrorIs(t, err, orders.ErrDuplicateRequest)

	req.IdempotencyKey = "k3"
	req.Items = []orders.ItemRequest{item("P", 99)}
	_, err = f.svc.PlaceOrder(ctx, alice, req)
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	ok, _ := idem.TryLock(ctx, "alice", "k3")
	assert.True(t, ok, "a failed placement releases its key")
}

func TestPlaceOrder_CancelledRequestReleasesKey(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	f := newFixture(orders.Product{ID: "P", Price: dec("2"), Stock: 3})
	f.svc.Idem = redisx.NewIdempotencyStore(rdb, 24*time.Hour)
	req := placeReq(item("P", 1))
	req.IdempotencyKey = "retry-me"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	healthy := f.svc.Store
	f.svc.Store = cancelledTx{Store: f.store, cancel: cancel}
	_, err := f.svc.PlaceOrder(ctx, alice, req)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, mr.Exists("idem:lock:alice:retry-me"), "lock released after cancellation")

	f.svc.Store = healthy
	o, err := f.svc.PlaceOrder(context.Background(), alice, req)
	require.NoError(t, err)
	assert.Equal(t, 2, f.stock(t, "P"))

	again, err := f.svc.PlaceOrder(context.Background(), alice, req)
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID)
}

func TestPlaceOrder_PublishesOrderCreated(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("4.5"), Stock: 3})

	o, err := f.svc.PlaceOrder(context.Background(), alice, placeReq(item("P", 2)))
	require.NoError(t, err)

	require.Equal(t, []string{orders.EventOrderCreated}, f.events.types())
	ev := f.events.events[0]
	assert.Equal(t, o.ID, ev.CorrelationID)
	assert.Equal(t, "order-api-test", ev.Producer)
	assert.Equal(t, 1, ev.EventVersion)
	assert.Contains(t, string(ev.Payload), `"total_amount":"9"`)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("5"), Stock: 3})
	ctx := context.Background()
	o, err := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	require.NoError(t, err)

	c := orders.PaymentConfirmation{OrderID: o.ID, PaymentRef: "pi_1", Outcome: orders.OutcomePaid}
	first, err := f.svc.ConfirmPayment(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, first.PaidAt)
	assert.Equal(t, orders.PaymentPaid, first.PaymentStatus)
	assert.Equal(t, "pi_1", first.PaymentReference)

	second, err := f.svc.ConfirmPayment(ctx, c)
	require.NoError(t, err)
	require.NotNil(t, second.PaidAt)
	assert.True(t, first.PaidAt.Equal(*second.PaidAt), "paidAt set once")
	assert.Equal(t, orders.PaymentPaid, second.PaymentStatus)

	c.PaymentRef = "pi_other"
	third, err := f.svc.ConfirmPayment(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", third.PaymentReference)

	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventOrderPaid}, f.events.types())
}

func TestConfirmPayment_ResolvedStatusNeverReverses(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("5"), Stock: 3})
	ctx := context.Background()

	paid, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	_, err := f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: paid.ID, PaymentRef: "pi", Outcome: orders.OutcomePaid})
	require.NoError(t, err)
	got, err := f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: paid.ID, Outcome: orders.OutcomeFailed})
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, orders.PaymentPaid, got.PaymentStatus)

	failed, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: failed.ID, Outcome: orders.OutcomeFailed, Reason: "declined"})
	require.NoError(t, err)
	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: failed.ID, Outcome: orders.OutcomeFailed})
	require.NoError(t, err, "repeated failure is a no-op")
	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: failed.ID, PaymentRef: "pi", Outcome: orders.OutcomePaid})
	require.ErrorIs(t, err, orders.ErrInvalidTransition)

	assert.Equal(t, 1, f.stock(t, "P"), "a failed payment keeps its reservation")
}

func TestConfirmPayment_Validation(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("5"), Stock: 3})
	ctx := context.Background()
	o, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))

	_, err := f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: o.ID, Outcome: orders.OutcomePaid})
	assert.ErrorIs(t, err, orders.ErrInvalidInput, "paid needs a reference")

	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: o.ID, PaymentRef: "x", Outcome: "refunded"})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{PaymentRef: "x", Outcome: orders.OutcomePaid})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.ConfirmPayment(ctx, orders.PaymentConfirmation{OrderID: "missing", PaymentRef: "x", Outcome: orders.OutcomePaid})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestCreatePaymentIntent(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("12.50"), Stock: 10})
	ctx := context.Background()
	o, err := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 2)))
	require.NoError(t, err)

	_, err = f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("1"), Currency: "usd"})
	assert.ErrorIs(t, err, orders.ErrInvalidInput, "client amount is checked against the order")

	_, err = f.svc.CreatePaymentIntent(ctx, bob, orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("25"), Currency: "usd"})
	assert.ErrorIs(t, err, orders.ErrAuth)

	_, err = f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("25"), Currency: "eur"})
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.CreatePaymentIntent(ctx, auth.Identity{}, orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("25")})
	assert.ErrorIs(t, err, orders.ErrAuth)

	res, err := f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("25.00"), Currency: "USD"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ClientSecret)
	assert.Equal(t, orders.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, res.IntentID, res.Order.PaymentIntentID)

	reqs := f.gw.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, int64(2500), reqs[0].AmountMinor)
	assert.Equal(t, "usd", reqs[0].Currency)
	assert.Equal(t, o.ID, reqs[0].OrderID)
}

func TestCreatePaymentIntent_ImmediateOutcome(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("3"), Stock: 10})
	ctx := context.Background()

	paid, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	res, err := f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: paid.ID, Amount: dec("3"), PaymentMethodID: "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, res.IntentID, res.Order.PaymentReference)

	_, err = f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: paid.ID, Amount: dec("3")})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)

	f.gw.Outcome = orders.OutcomeFailed
	declined, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	res, err = f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: declined.ID, Amount: dec("3"), PaymentMethodID: "pm_declined"})
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentFailed, res.Order.PaymentStatus)
}

func TestCreatePaymentIntent_Failures(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("3"), Stock: 10})
	ctx := context.Background()
	o, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	req := orders.PaymentIntentRequest{OrderID: o.ID, Amount: dec("3"), PaymentMethodID: "pm"}

	f.gw.Err = errors.New("stripe: timeout")
	_, err := f.svc.CreatePaymentIntent(ctx, alice, req)
	assert.ErrorIs(t, err, orders.ErrPaymentGateway)
	f.gw.Err = nil

	f.svc.Store = failingSetIntent{f.store}
	_, err = f.svc.CreatePaymentIntent(ctx, alice, req)
	assert.ErrorIs(t, err, orders.ErrPartialFailure)

	f.svc.Store = failingMarkPaid{f.store}
	_, err = f.svc.CreatePaymentIntent(ctx, alice, req)
	require.ErrorIs(t, err, orders.ErrPartialFailure)
	var pf *orders.PartialFailureError
	require.ErrorAs(t, err, &pf)
	assert.Equal(t, "apply_payment", pf.Op)

	_, err = f.svc.CreatePaymentIntent(ctx, alice, orders.PaymentIntentRequest{OrderID: "missing", Amount: dec("3")})
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestUpdateFulfillmentStatus(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})
	ctx := context.Background()
	o, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))

	got, err := f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentDelivered)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, orders.FulfillmentProcessing, got.FulfillmentStatus)
	stored, _ := f.store.GetOrder(ctx, o.ID)
	assert.Equal(t, orders.FulfillmentProcessing, stored.FulfillmentStatus)

	_, err = f.svc.UpdateFulfillmentStatus(ctx, alice, o.ID, orders.FulfillmentShipped)
	assert.ErrorIs(t, err, orders.ErrAuth)

	_, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, "lost")
	assert.ErrorIs(t, err, orders.ErrInvalidInput)

	_, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentProcessing)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition, "same-state change is rejected")

	got, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentShipped)
	require.NoError(t, err)
	assert.Equal(t, orders.FulfillmentShipped, got.FulfillmentStatus)
	got, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentDelivered)
	require.NoError(t, err)
	assert.Equal(t, orders.FulfillmentDelivered, got.FulfillmentStatus)

	_, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentCancelled)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition, "delivered is terminal")

	_, err = f.svc.UpdateFulfillmentStatus(ctx, operator, "missing", orders.FulfillmentShipped)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	assert.Equal(t, []string{
		orders.EventOrderCreated,
		orders.EventFulfillmentStatusChanged,
		orders.EventFulfillmentStatusChanged,
	}, f.events.types())
}

func TestUpdateFulfillmentStatus_ConcurrentChange(t *testing.T) {
	f := newFixture(orders.Product{ID: "P", Price: dec("1"), Stock: 10})
	ctx := context.Background()
	o, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))

	f.svc.Store = &racingStore{Store: f.store, loses: 1}
	got, err := f.svc.UpdateFulfillmentStatus(ctx, operator, o.ID, orders.FulfillmentCancelled)
	require.NoError(t, err, "one lost race is retried")
	assert.Equal(t, orders.FulfillmentCancelled, got.FulfillmentStatus)

	o2, _ := f.svc.PlaceOrder(ctx, alice, placeReq(item("P", 1)))
	f.svc.Store = &racingStore{Store: f.store, loses: 10}
	_, err = f.svc.UpdateFulfillmentStatus(ctx, operator, o2.ID, orders.FulfillmentShipped)
	require.ErrorIs(t, err, orders.ErrInvalidTransition)
	stored, _ := f.store.GetOrder(ctx, o2.ID)
	assert.Equal(t, orders.FulfillmentProcessing, stored.FulfillmentStatus)
}
