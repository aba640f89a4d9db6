package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAuth              = errors.New("not authorized")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrPaymentGateway    = errors.New("payment gateway error")
	ErrPartialFailure    = errors.New("partial failure")
	ErrDuplicateRequest  = errors.New("duplicate request in progress")
)

// LineError reports the first unsatisfiable line of a reservation.
type LineError struct {
	Err       error // ErrProductNotFound or ErrInsufficientStock
	Line      int
	ProductID string
	Requested int
	Available int
}

func (e *LineError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%v: product %s (line %d) requested %d, available %d",
			e.Err, e.ProductID, e.Line, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: %s (line %d)", e.Err, e.ProductID, e.Line)
}

func (e *LineError) Unwrap() error { return e.Err }

// PartialFailureError marks a failure that happened after an external or
// persisted mutation had already been applied. Operators reconcile these.
type PartialFailureError struct {
	Op      string
	OrderID string
	Err     error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%v: %s (order %s): %v", ErrPartialFailure, e.Op, e.OrderID, e.Err)
}

func (e *PartialFailureError) Unwrap() []error { return []error{ErrPartialFailure, e.Err} }

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}

// KindOf returns a stable name for the taxonomy kind of err, or "internal".
// PartialFailure wins over the kind of its cause.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPartialFailure):
		return "partial_failure"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrAuth):
		return "auth_error"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrPaymentGateway):
		return "payment_gateway_error"
	case errors.Is(err, ErrDuplicateRequest):
		return "duplicate_request"
	default:
		return "internal"
	}
}
