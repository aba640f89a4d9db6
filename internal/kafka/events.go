package kafka

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// EventWriter publishes order lifecycle envelopes, keyed by order id.
type EventWriter struct {
	Producer *Producer
}

func (e EventWriter) Publish(ctx context.Context, ev orders.Envelope) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return e.Producer.Publish(ctx, orders.PartitionKey(ev.CorrelationID), b, InjectTrace(ctx, EnvelopeHeaders(ev))...)
}

var _ orders.EventPublisher = EventWriter{}
