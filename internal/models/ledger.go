package models

import (
	"fmt"

	"fulfillment/internal/apperr"
)

// PlanDeduction validates a batch against current stock and computes the
// resulting levels without mutating anything. Items are checked in the
// given order and repeated SKUs are validated cumulatively; the first
// failing item decides the error. stock holds the current quantity of every
// known SKU in the batch; a SKU absent from stock is unknown.
func PlanDeduction(stock map[string]int, items []LineItem) (StockLevels, map[string]int, error) {
	remaining := make(map[string]int, len(items))
	levels := make(StockLevels, 0, len(items))

	for _, item := range items {
		qty, seen := remaining[item.SKU]
		if !seen {
			var known bool
			qty, known = stock[item.SKU]
			if !known {
				return nil, nil, fmt.Errorf("product %s: %w", item.SKU, apperr.ErrNotFound)
			}
		}
		if qty < item.Qty {
			return nil, nil, fmt.Errorf("%w for %s: available=%d, requested=%d",
				apperr.ErrInsufficientStock, item.SKU, qty, item.Qty)
		}
		remaining[item.SKU] = qty - item.Qty
		levels = append(levels, StockLevel{SKU: item.SKU, NewQuantity: qty - item.Qty})
	}

	return levels, remaining, nil
}

// DistinctSKUs returns the SKUs of items in first-seen order.
func DistinctSKUs(items []LineItem) []string {
	seen := make(map[string]struct{}, len(items))
	skus := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SKU]; ok {
			continue
		}
		seen[item.SKU] = struct{}{}
		skus = append(skus, item.SKU)
	}
	return skus
}
