package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Reserve checks and decrements stock for each requested line, in order, and
// returns the price snapshot of every line. It stops at the first
// unsatisfiable line with a *LineError.
//
// Decrements already applied for earlier lines are not undone here; callers
// run Reserve against a transactional Store (see Store.InTx) so that a
// rejection rolls them back. Duplicate product ids are separate lines and
// draw from the same stock one after the other.
func Reserve(ctx context.Context, catalog Catalog, items []ItemRequest) ([]LineItem, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	if l, ok := catalog.(ProductLocker); ok {
		if err := l.LockProducts(ctx, productIDs(items)); err != nil {
			return nil, fmt.Errorf("lock products: %w", err)
		}
	}

	lines := make([]LineItem, 0, len(items))
	for i, it := range items {
		p, err := catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, ErrProductNotFound) {
			return nil, &LineError{Err: ErrProductNotFound, Line: i, ProductID: it.ProductID, Requested: it.Quantity}
		}
		if err != nil {
			return nil, err
		}
		if it.Quantity > p.Stock {
			return nil, insufficient(i, it, p.Stock)
		}

		// the read above is only a fast path; the conditional decrement is
		// what serializes concurrent reservations of the same product
		ok, err := catalog.DecrementStock(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			available := p.Stock
			if cur, err := catalog.GetProduct(ctx, it.ProductID); err == nil {
				available = cur.Stock
			}
			return nil, insufficient(i, it, available)
		}

		lines = append(lines, LineItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: p.Price})
	}
	return lines, nil
}

// productIDs returns the distinct product ids of items, sorted.
func productIDs(items []ItemRequest) []string {
	seen := make(map[string]bool, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	sort.Strings(ids)
	return ids
}

func insufficient(line int, it ItemRequest, available int) error {
	return &LineError{
		Err:       ErrInsufficientStock,
		Line:      line,
		ProductID: it.ProductID,
		Requested: it.Quantity,
		Available: available,
	}
}

func validateItems(items []ItemRequest) error {
	if len(items) == 0 {
		return invalidf("order has no items")
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return invalidf("line %d: missing product id", i)
		}
		if it.Quantity <= 0 {
			return invalidf("line %d: quantity must be at least 1, got %d", i, it.Quantity)
		}
	}
	return nil
}
