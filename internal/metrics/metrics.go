package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_placed_total",
		Help: "Orders persisted after a successful stock reservation",
	})

	PlacementsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_placements_rejected_total",
			Help: "Order placements rejected before an order was created, by error kind",
		},
		[]string{"kind"},
	)

	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_payment_transitions_total",
			Help: "Payment status changes applied, by target status; duplicates are counted as noop",
		},
		[]string{"to"},
	)

	FulfillmentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_fulfillment_transitions_total",
			Help: "Fulfillment status changes applied, by target status",
		},
		[]string{"to"},
	)

	PartialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_partial_failures_total",
			Help: "Failures after a mutation was applied, needing reconciliation",
		},
		[]string{"op"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "path"},
	)
)
