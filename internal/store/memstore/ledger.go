// Package memstore holds mutex-guarded in-memory record stores with the same
// semantics as the Postgres store, for local runs and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"
)

// Ledger stores products and recorded deductions. One lock covers
// validate-and-apply, which makes every batch deduction atomic.
type Ledger struct {
	mu         sync.RWMutex
	products   map[string]models.Product
	deductions map[string]models.Deduction
}

func NewLedger() *Ledger {
	return &Ledger{
		products:   make(map[string]models.Product),
		deductions: make(map[string]models.Deduction),
	}
}

func (l *Ledger) GetProduct(_ context.Context, sku string) (*models.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.products[sku]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", sku, apperr.ErrNotFound)
	}
	return &p, nil
}

func (l *Ledger) GetProducts(_ context.Context, skus []string) ([]models.Product, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Product, 0, len(skus))
	seen := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		if p, ok := l.products[sku]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (l *Ledger) CreateProduct(_ context.Context, product *models.Product) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.products[product.SKU]; ok {
		return fmt.Errorf("product %s already exists: %w", product.SKU, apperr.ErrConflict)
	}
	now := time.Now().UTC()
	product.CreatedAt, product.UpdatedAt = now, now
	l.products[product.SKU] = *product
	return nil
}

func (l *Ledger) UpdateProduct(_ context.Context, sku string, update models.ProductUpdate) (*models.Product, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.products[sku]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", sku, apperr.ErrNotFound)
	}
	update.Apply(&p)
	p.UpdatedAt = time.Now().UTC()
	l.products[sku] = p
	return &p, nil
}

func (l *Ledger) ApplyDeduction(_ context.Context, ref string, items []models.LineItem) (models.StockLevels, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ref != "" {
		if d, ok := l.deductions[ref]; ok {
			return append(models.StockLevels(nil), d.Levels...), nil
		}
	}

	stock := make(map[string]int, len(items))
	for _, sku := range models.DistinctSKUs(items) {
		if p, ok := l.products[sku]; ok {
			stock[sku] = p.Quantity
		}
	}

	levels, remaining, err := models.PlanDeduction(stock, items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for sku, qty := range remaining {
		p := l.products[sku]
		p.Quantity = qty
		p.UpdatedAt = now
		l.products[sku] = p
	}

	if ref != "" {
		l.deductions[ref] = models.Deduction{
			Reference: ref,
			Items:     models.LineItems(items).Clone(),
			Levels:    append(models.StockLevels(nil), levels...),
			CreatedAt: now,
		}
	}
	return levels, nil
}

func (l *Ledger) GetDeduction(_ context.Context, ref string) (*models.Deduction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.deductions[ref]
	if !ok {
		return nil, fmt.Errorf("deduction %s: %w", ref, apperr.ErrNotFound)
	}
	return &d, nil
}
