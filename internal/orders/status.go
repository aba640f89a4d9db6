package orders

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type FulfillmentStatus string

const (
	FulfillmentProcessing FulfillmentStatus = "processing"
	FulfillmentShipped    FulfillmentStatus = "shipped"
	FulfillmentDelivered  FulfillmentStatus = "delivered"
	FulfillmentCancelled  FulfillmentStatus = "cancelled"
)

var paymentNext = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending: {PaymentPaid: true, PaymentFailed: true},
	PaymentPaid:    {},
	PaymentFailed:  {},
}

var fulfillmentNext = map[FulfillmentStatus]map[FulfillmentStatus]bool{
	FulfillmentProcessing: {FulfillmentShipped: true, FulfillmentCancelled: true},
	FulfillmentShipped:    {FulfillmentDelivered: true, FulfillmentCancelled: true},
	FulfillmentDelivered:  {},
	FulfillmentCancelled:  {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return paymentNext[from][to]
}

func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	return fulfillmentNext[from][to]
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := fulfillmentNext[s]
	return ok
}

// PaymentOutcome is what the payment gateway reports for an intent.
type PaymentOutcome string

const (
	OutcomePending PaymentOutcome = "pending"
	OutcomePaid    PaymentOutcome = "paid"
	OutcomeFailed  PaymentOutcome = "failed"
)
