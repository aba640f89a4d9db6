package redisx

import "time"

const (
	// Placement lock while a request is in flight: idem:lock:{buyer}:{key}
	KeyIdemLock = "idem:lock:%s:%s"

	// Placement result: idem:order:{buyer}:{key} -> order_id
	KeyIdemOrder = "idem:order:%s:%s"

	// Read cache: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Invalidation count of a cached order: ordergen:{order_id}
	KeyOrderGen = "ordergen:%s"

	// Dedup of consumed events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// Upper bound on one placement attempt; a lock outliving its request
	// expires on its own.
	TTLIdempotencyLock = 2 * time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
