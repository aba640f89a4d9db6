// Package payment adapts payment gateways to orders.PaymentGateway and turns
// gateway notifications into payment confirmations.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Stripe struct {
	api *client.API
}

// NewStripe returns a gateway using secretKey. backends may be nil.
func NewStripe(secretKey string, backends *stripe.Backends) *Stripe {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Stripe{api: api}
}

func (s *Stripe) CreateIntent(ctx context.Context, req orders.IntentRequest) (orders.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(intentKey(req))
	params.AddMetadata("order_id", req.OrderID)
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		}
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		// a declined confirmation still created the intent
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard && se.PaymentIntent != nil {
			return orders.Intent{ID: se.PaymentIntent.ID, ClientSecret: se.PaymentIntent.ClientSecret, Outcome: orders.OutcomeFailed}, nil
		}
		return orders.Intent{}, fmt.Errorf("%w: %v", orders.ErrPaymentGateway, err)
	}
	return orders.Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Outcome:      outcomeOf(pi, req.PaymentMethodID != ""),
	}, nil
}

// intentKey makes concurrent or repeated intent requests for one order and
// payment method resolve to a single Stripe intent, so the order is charged
// at most once per method.
func intentKey(req orders.IntentRequest) string {
	return fmt.Sprintf("order-intent:%s:%s:%d:%s", req.OrderID, req.PaymentMethodID, req.AmountMinor, req.Currency)
}

func outcomeOf(pi *stripe.PaymentIntent, confirmed bool) orders.PaymentOutcome {
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return orders.OutcomePaid
	case stripe.PaymentIntentStatusCanceled:
		return orders.OutcomeFailed
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if confirmed {
			return orders.OutcomeFailed
		}
	}
	return orders.OutcomePending
}

// Webhook verifies and decodes Stripe webhook deliveries.
type Webhook struct {
	Secret string
}

// Parse returns the confirmation carried by a payment_intent.succeeded or
// payment_intent.payment_failed event. handled is false for any other event
// type.
func (w Webhook) Parse(payload []byte, signature string) (c orders.PaymentConfirmation, handled bool, err error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, w.Secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return c, false, fmt.Errorf("%w: webhook signature: %v", orders.ErrAuth, err)
	}

	var outcome orders.PaymentOutcome
	switch string(ev.Type) {
	case "payment_intent.succeeded":
		outcome = orders.OutcomePaid
	case "payment_intent.payment_failed":
		outcome = orders.OutcomeFailed
	default:
		return c, false, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return c, false, fmt.Errorf("%w: webhook payload: %v", orders.ErrInvalidInput, err)
	}
	orderID := pi.Metadata["order_id"]
	if orderID == "" {
		return c, false, fmt.Errorf("%w: payment intent %s has no order_id metadata", orders.ErrInvalidInput, pi.ID)
	}

	c = orders.PaymentConfirmation{OrderID: orderID, PaymentRef: pi.ID, Outcome: outcome}
	if outcome == orders.OutcomeFailed && pi.LastPaymentError != nil {
		c.Reason = pi.LastPaymentError.Msg
	}
	return c, true, nil
}

var _ orders.PaymentGateway = (*Stripe)(nil)
