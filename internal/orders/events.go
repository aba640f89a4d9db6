package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated             = "OrderCreated"
	EventOrderPaid                = "OrderPaid"
	EventOrderPaymentFailed       = "OrderPaymentFailed"
	EventFulfillmentStatusChanged = "FulfillmentStatusChanged"

	// inbound, produced by the payment gateway bridge
	EventPaymentSucceeded = "PaymentSucceeded"
	EventPaymentDeclined  = "PaymentDeclined"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderPaidPayload struct {
	OrderID     string          `json:"order_id"`
	PaymentRef  string          `json:"payment_ref"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAt      time.Time       `json:"paid_at"`
}

type OrderPaymentFailedPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type FulfillmentStatusChangedPayload struct {
	OrderID string            `json:"order_id"`
	From    FulfillmentStatus `json:"from"`
	To      FulfillmentStatus `json:"to"`
}

// PaymentEventPayload is the payload of inbound PaymentSucceeded and
// PaymentDeclined events.
type PaymentEventPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason,omitempty"`
}

func NewEnvelope(eventType, producer, orderID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}
