package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// ItemRequest is one requested line of an order placement.
type ItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// LineItem is the price snapshot of one order line, taken when the order was placed.
type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

func (l LineItem) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type ShippingAddress struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

type Order struct {
	ID                string            `json:"id"`
	BuyerID           string            `json:"buyer_id"`
	Items             []LineItem        `json:"items"`
	ShippingAddress   ShippingAddress   `json:"shipping_address"`
	PaymentMethod     string            `json:"payment_method"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	PaymentIntentID   string            `json:"payment_intent_id,omitempty"`
	PaymentReference  string            `json:"payment_reference,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Total sums price * quantity over the given lines.
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}
