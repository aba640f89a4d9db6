package orders

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"go.uber.org/zap"
)

// ListOrdersForBuyer returns the caller's own orders, newest first.
func (s *Service) ListOrdersForBuyer(ctx context.Context, buyer auth.Identity) ([]Order, error) {
	if !buyer.Authenticated() {
		return nil, fmt.Errorf("%w: missing buyer identity", ErrAuth)
	}
	return s.Store.ListOrders(ctx, buyer.UserID)
}

// ListAllOrders returns every order, newest first. Operators only.
func (s *Service) ListAllOrders(ctx context.Context, operator auth.Identity) ([]Order, error) {
	if !operator.IsOperator() {
		return nil, fmt.Errorf("%w: operator role required", ErrAuth)
	}
	return s.Store.ListOrders(ctx, "")
}

// GetOrder fetches one order, through the cache when one is configured.
// Buyers only see their own orders.
func (s *Service) GetOrder(ctx context.Context, caller auth.Identity, id string) (Order, error) {
	if !caller.Authenticated() {
		return Order{}, fmt.Errorf("%w: missing identity", ErrAuth)
	}
	if id == "" {
		return Order{}, invalidf("order id is required")
	}

	order, err := s.loadOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if order.BuyerID != caller.UserID && !caller.IsOperator() {
		// same answer as a missing order so ids can't be enumerated
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return order, nil
}

func (s *Service) loadOrder(ctx context.Context, id string) (Order, error) {
	var (
		stamp int64
		fill  bool
	)
	if s.Cache != nil {
		o, hit, st, err := s.Cache.Get(ctx, id)
		switch {
		case err != nil:
			s.log(ctx).Warn("order cache read", zap.String("order_id", id), zap.Error(err))
		case hit:
			return o, nil
		default:
			stamp, fill = st, true
		}
	}

	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if fill {
		if err := s.Cache.Set(ctx, o, stamp); err != nil {
			s.log(ctx).Warn("order cache write", zap.String("order_id", id), zap.Error(err))
		}
	}
	return o, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}
