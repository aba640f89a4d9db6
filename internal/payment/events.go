package payment

import (
	"context"
	"errors"
	"fmt"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Confirmer interface {
	ConfirmPayment(ctx context.Context, c orders.PaymentConfirmation) (orders.Order, error)
}

type Deduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// EventHandler applies PaymentSucceeded and PaymentDeclined events from the
// payment topic. It is installed as the consumer handler: events that can
// never apply come back as kafkax.Permanent errors, anything else that fails
// is redelivered.
type EventHandler struct {
	Orders Confirmer
	Dedup  Deduper // optional
	Logger *zap.Logger
}

func (h *EventHandler) Handle(ctx context.Context, m kafkago.Message) error {
	log := h.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx = kafkax.ExtractTrace(ctx, m)
	ev, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		return kafkax.Permanent(fmt.Errorf("undecodable payment event: %w", err))
	}
	var outcome orders.PaymentOutcome
	switch ev.EventType {
	case orders.EventPaymentSucceeded:
		outcome = orders.OutcomePaid
	case orders.EventPaymentDeclined:
		outcome = orders.OutcomeFailed
	default:
		return nil
	}
	log = log.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType))

	if h.Dedup != nil && ev.EventID != "" {
		first, err := h.Dedup.Claim(ctx, ev.EventID)
		if err != nil {
			return err
		}
		if !first {
			log.Debug("duplicate payment event")
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentEventPayload](ev.Payload)
	if err != nil {
		return kafkax.Permanent(fmt.Errorf("payment event %s payload: %w", ev.EventID, err))
	}
	if p.OrderID == "" {
		p.OrderID = ev.CorrelationID
	}

	_, err = h.Orders.ConfirmPayment(ctx, orders.PaymentConfirmation{
		OrderID:    p.OrderID,
		PaymentRef: p.PaymentRef,
		Outcome:    outcome,
		Reason:     p.Reason,
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrInvalidInput):
		// retrying cannot change the answer
		log.Warn("payment event rejected", zap.String("order_id", p.OrderID), zap.Error(err))
		return kafkax.Permanent(err)
	default:
		if h.Dedup != nil && ev.EventID != "" {
			if rerr := h.Dedup.Release(ctx, ev.EventID); rerr != nil {
				log.Warn("release dedup key", zap.Error(rerr))
			}
		}
		return err
	}
}
