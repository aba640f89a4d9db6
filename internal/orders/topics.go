package orders

const (
	TopicOrderEvents   = "order.events"
	TopicPaymentEvents = "order.payment.events"
)

// Partition key = order_id so that all events of one order keep their order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
