package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orders")

// Service is the order lifecycle controller. Store and Payments are
// required; Idem, Cache and Events are optional.
type Service struct {
	Store    Store
	Payments PaymentGateway
	Idem     Idempotency
	Cache    OrderCache
	Events   EventPublisher
	Logger   *zap.Logger

	ServiceName string
	Currency    string // default "usd"
	Now         func() time.Time
}

type PlaceOrderRequest struct {
	Items           []ItemRequest   `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	IdempotencyKey  string          `json:"-"`
}

type PaymentIntentRequest struct {
	OrderID         string          `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethodID string          `json:"payment_method_id"`
}

type PaymentIntentResult struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Order        Order  `json:"order"`
}

// PaymentConfirmation is an outcome reported by the payment gateway.
type PaymentConfirmation struct {
	OrderID    string
	PaymentRef string
	Outcome    PaymentOutcome
	Reason     string
}

// PlaceOrder reserves stock for every line and persists the order in one
// store transaction: either all decrements and the order are committed, or
// none are.
func (s *Service) PlaceOrder(ctx context.Context, buyer auth.Identity, req PlaceOrderRequest) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(attribute.String("buyer.id", buyer.UserID)))
	defer func() { endSpan(span, err) }()

	if !buyer.Authenticated() {
		return Order{}, fmt.Errorf("%w: missing buyer identity", ErrAuth)
	}
	if err := validateItems(req.Items); err != nil {
		metrics.PlacementsRejected.WithLabelValues(KindOf(err)).Inc()
		return Order{}, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return Order{}, invalidf("payment method is required")
	}

	if req.IdempotencyKey != "" && s.Idem != nil {
		prev, found, claimErr := s.claimIdempotency(ctx, buyer.UserID, req.IdempotencyKey)
		if claimErr != nil || found {
			return prev, claimErr
		}
		defer func() {
			if err == nil {
				return
			}
			// the request context may already be cancelled; the lock must
			// still go so a retry with the same key can run
			if rerr := s.Idem.Release(context.WithoutCancel(ctx), buyer.UserID, req.IdempotencyKey); rerr != nil {
				s.log(ctx).Error("release idempotency lock",
					zap.String("buyer_id", buyer.UserID),
					zap.String("idempotency_key", req.IdempotencyKey),
					zap.Error(rerr))
			}
		}()
	}

	order = Order{
		ID:                uuid.NewString(),
		BuyerID:           buyer.UserID,
		ShippingAddress:   req.ShippingAddress,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentProcessing,
		CreatedAt:         s.now(),
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	inserted := false
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Store) error {
		lines, err := Reserve(ctx, tx, req.Items)
		if err != nil {
			return err
		}
		order.Items = lines
		order.TotalAmount = Total(lines)
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		if inserted {
			// fn succeeded, so the commit itself failed and its outcome is unknown
			return Order{}, s.partialFailure(ctx, "place_order", order.ID, err)
		}
		metrics.PlacementsRejected.WithLabelValues(KindOf(err)).Inc()
		return Order{}, err
	}
	metrics.OrdersPlaced.Inc()

	if req.IdempotencyKey != "" && s.Idem != nil {
		if err := s.Idem.Remember(ctx, buyer.UserID, req.IdempotencyKey, order.ID); err != nil {
			s.log(ctx).Warn("remember idempotency key", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
	s.publish(ctx, EventOrderCreated, order.ID, OrderCreatedPayload{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
	})
	s.log(ctx).Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.String("total", order.TotalAmount.String()),
		zap.Int("lines", len(order.Items)))
	return order, nil
}

func (s *Service) claimIdempotency(ctx context.Context, buyerID, key string) (Order, bool, error) {
	if id, ok, err := s.Idem.Recall(ctx, buyerID, key); err == nil && ok {
		prev, err := s.Store.GetOrder(ctx, id)
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return Order{}, false, err
		}
	}
	locked, err := s.Idem.TryLock(ctx, buyerID, key)
	if err != nil {
		return Order{}, false, err
	}
	if !locked {
		return Order{}, false, ErrDuplicateRequest
	}
	return Order{}, false, nil
}

// CreatePaymentIntent asks the gateway to charge the stored order total. The
// amount in req must equal that total; it is checked, never used as is.
func (s *Service) CreatePaymentIntent(ctx context.Context, buyer auth.Identity, req PaymentIntentRequest) (res PaymentIntentResult, err error) {
	ctx, span := tracer.Start(ctx, "orders.CreatePaymentIntent", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer func() { endSpan(span, err) }()

	if !buyer.Authenticated() {
		return res, fmt.Errorf("%w: missing buyer identity", ErrAuth)
	}
	if req.OrderID == "" {
		return res, invalidf("order id is required")
	}
	currency := s.currency()
	if req.Currency != "" && !strings.EqualFold(req.Currency, currency) {
		return res, invalidf("currency %q not supported, orders are charged in %s", req.Currency, currency)
	}

	order, err := s.Store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return res, err
	}
	if order.BuyerID != buyer.UserID {
		return res, fmt.Errorf("%w: order belongs to another buyer", ErrAuth)
	}
	if order.PaymentStatus != PaymentPending {
		return res, fmt.Errorf("%w: order payment is already %s", ErrInvalidTransition, order.PaymentStatus)
	}
	if !req.Amount.Equal(order.TotalAmount) {
		return res, invalidf("amount %s does not match order total %s", req.Amount, order.TotalAmount)
	}
	minor, err := ToMinorUnits(order.TotalAmount, currency)
	if err != nil {
		return res, err
	}

	intent, err := s.Payments.CreateIntent(ctx, IntentRequest{
		OrderID:         order.ID,
		AmountMinor:     minor,
		Currency:        currency,
		PaymentMethodID: req.PaymentMethodID,
		Description:     "Order ID: " + order.ID,
	})
	if err != nil {
		if !errors.Is(err, ErrPaymentGateway) {
			err = fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
		return res, err
	}

	if err := s.Store.SetPaymentIntent(ctx, order.ID, intent.ID); err != nil {
		return res, s.partialFailure(ctx, "record_payment_intent", order.ID, err)
	}
	order.PaymentIntentID = intent.ID
	s.invalidate(ctx, order.ID)

	if intent.Outcome == OutcomePaid || intent.Outcome == OutcomeFailed {
		updated, err := s.ConfirmPayment(ctx, PaymentConfirmation{
			OrderID:    order.ID,
			PaymentRef: intent.ID,
			Outcome:    intent.Outcome,
		})
		if err != nil {
			if intent.Outcome == OutcomePaid && !errors.Is(err, ErrPartialFailure) {
				err = s.partialFailure(ctx, "apply_payment", order.ID, err)
			}
			return res, err
		}
		order = updated
	}

	return PaymentIntentResult{IntentID: intent.ID, ClientSecret: intent.ClientSecret, Order: order}, nil
}

// ConfirmPayment applies a gateway outcome. It is idempotent: repeating an
// outcome the order already has is a no-op, and a resolved payment status is
// never changed.
func (s *Service) ConfirmPayment(ctx context.Context, c PaymentConfirmation) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.ConfirmPayment", trace.WithAttributes(
		attribute.String("order.id", c.OrderID),
		attribute.String("payment.outcome", string(c.Outcome)),
	))
	defer func() { endSpan(span, err) }()

	if c.OrderID == "" {
		return Order{}, invalidf("order id is required")
	}
	var target PaymentStatus
	switch c.Outcome {
	case OutcomePaid:
		if c.PaymentRef == "" {
			return Order{}, invalidf("payment reference is required for a paid outcome")
		}
		target = PaymentPaid
	case OutcomeFailed:
		target = PaymentFailed
	default:
		return Order{}, invalidf("unknown payment outcome %q", c.Outcome)
	}

	var applied bool
	if target == PaymentPaid {
		applied, err = s.Store.MarkPaid(ctx, c.OrderID, c.PaymentRef, s.now())
	} else {
		applied, err = s.Store.MarkPaymentFailed(ctx, c.OrderID)
	}
	if err != nil {
		return Order{}, err
	}

	order, err = s.Store.GetOrder(ctx, c.OrderID)
	if err != nil {
		return Order{}, err
	}

	if !applied {
		if order.PaymentStatus != target {
			return order, fmt.Errorf("%w: payment is %s, cannot become %s",
				ErrInvalidTransition, order.PaymentStatus, target)
		}
		if target == PaymentPaid && order.PaymentReference != c.PaymentRef {
			s.log(ctx).Warn("duplicate payment confirmation with a different reference",
				zap.String("order_id", order.ID),
				zap.String("stored_ref", order.PaymentReference),
				zap.String("received_ref", c.PaymentRef))
		}
		metrics.PaymentTransitions.WithLabelValues("noop").Inc()
		return order, nil
	}

	metrics.PaymentTransitions.WithLabelValues(string(target)).Inc()
	s.invalidate(ctx, order.ID)
	if target == PaymentPaid {
		p := OrderPaidPayload{OrderID: order.ID, PaymentRef: order.PaymentReference, TotalAmount: order.TotalAmount}
		if order.PaidAt != nil {
			p.PaidAt = *order.PaidAt
		}
		s.publish(ctx, EventOrderPaid, order.ID, p)
	} else {
		s.publish(ctx, EventOrderPaymentFailed, order.ID, OrderPaymentFailedPayload{OrderID: order.ID, Reason: c.Reason})
	}
	s.log(ctx).Info("payment status updated",
		zap.String("order_id", order.ID),
		zap.String("payment_status", string(order.PaymentStatus)))
	return order, nil
}

// fulfillmentRetries bounds the compare-and-set loop of UpdateFulfillmentStatus
// when other operators change the same order concurrently.
const fulfillmentRetries = 3

// UpdateFulfillmentStatus moves an order along the fulfillment state machine.
// Only operators may call it.
func (s *Service) UpdateFulfillmentStatus(ctx context.Context, operator auth.Identity, orderID string, to FulfillmentStatus) (order Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.UpdateFulfillmentStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("fulfillment.to", string(to)),
	))
	defer func() { endSpan(span, err) }()

	if !operator.IsOperator() {
		return Order{}, fmt.Errorf("%w: operator role required", ErrAuth)
	}
	if orderID == "" {
		return Order{}, invalidf("order id is required")
	}
	if !to.Valid() {
		return Order{}, invalidf("unknown fulfillment status %q", to)
	}

	for range fulfillmentRetries {
		order, err = s.Store.GetOrder(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		from := order.FulfillmentStatus
		if !CanTransitionFulfillment(from, to) {
			return order, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		ok, err := s.Store.SetFulfillmentStatus(ctx, orderID, from, to)
		if err != nil {
			return Order{}, err
		}
		if !ok {
			continue
		}

		order.FulfillmentStatus = to
		metrics.FulfillmentTransitions.WithLabelValues(string(to)).Inc()
		s.invalidate(ctx, orderID)
		s.publish(ctx, EventFulfillmentStatusChanged, orderID, FulfillmentStatusChangedPayload{OrderID: orderID, From: from, To: to})
		s.log(ctx).Info("fulfillment status updated",
			zap.String("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("operator", operator.UserID))
		return order, nil
	}
	return order, fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, orderID)
}

func (s *Service) partialFailure(ctx context.Context, op, orderID string, cause error) error {
	metrics.PartialFailures.WithLabelValues(op).Inc()
	s.log(ctx).Error("partial failure, manual reconciliation needed",
		zap.String("op", op),
		zap.String("order_id", orderID),
		zap.Error(cause))
	return &PartialFailureError{Op: op, OrderID: orderID, Err: cause}
}

func (s *Service) publish(ctx context.Context, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	ev, err := NewEnvelope(eventType, s.ServiceName, orderID, payload)
	if err == nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			ev.TraceID = sc.TraceID().String()
		}
		err = s.Events.Publish(ctx, ev)
	}
	if err != nil {
		s.log(ctx).Warn("publish event", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, orderID); err != nil {
		s.log(ctx).Warn("invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logging.FromCtx(ctx, s.Logger)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) currency() string {
	if s.Currency == "" {
		return "usd"
	}
	return strings.ToLower(s.Currency)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
