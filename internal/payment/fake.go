package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Fake is an in-process gateway. Intents without a payment method stay
// pending; with one they resolve to Outcome, which defaults to paid.
type Fake struct {
	Outcome orders.PaymentOutcome
	Err     error

	mu       sync.Mutex
	requests []orders.IntentRequest
}

func (f *Fake) CreateIntent(_ context.Context, req orders.IntentRequest) (orders.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.Err != nil {
		return orders.Intent{}, f.Err
	}

	id := fmt.Sprintf("pi_fake_%d", len(f.requests))
	in := orders.Intent{ID: id, ClientSecret: id + "_secret", Outcome: orders.OutcomePending}
	if req.PaymentMethodID != "" {
		in.Outcome = f.Outcome
		if in.Outcome == "" {
			in.Outcome = orders.OutcomePaid
		}
	}
	return in, nil
}

// Requests returns every request seen so far.
func (f *Fake) Requests() []orders.IntentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orders.IntentRequest(nil), f.requests...)
}

var _ orders.PaymentGateway = (*Fake)(nil)
