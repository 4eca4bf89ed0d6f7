package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment/internal/apperr"
	"fulfillment/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Store is the Postgres record store. Each service opens its own Store
// against its own database and only touches its own tables.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProduct retrieves a product by SKU
func (s *Store) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", sku, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves the known products among skus in one snapshot
func (s *Store) GetProducts(ctx context.Context, skus []string) ([]models.Product, error) {
	if len(skus) == 0 {
		return []models.Product{}, nil
	}

	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE sku = ANY($1) ORDER BY sku", pq.Array(skus))
	return products, err
}

// CreateProduct inserts a new product, failing with ErrConflict on a duplicate SKU
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (sku, name, quantity, price)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := s.db.GetContext(ctx, product, query,
		product.SKU, product.Name, product.Quantity, product.Price)
	if isUniqueViolation(err) {
		return fmt.Errorf("product %s already exists: %w", product.SKU, apperr.ErrConflict)
	}
	return err
}

// UpdateProduct applies a partial update under a row lock
func (s *Store) UpdateProduct(ctx context.Context, sku string, update models.ProductUpdate) (*models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var product models.Product
	err = tx.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1 FOR UPDATE", sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", sku, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product: %w", err)
	}

	update.Apply(&product)

	err = tx.GetContext(ctx, &product.UpdatedAt,
		"UPDATE products SET name = $1, quantity = $2, price = $3, updated_at = NOW() WHERE sku = $4 RETURNING updated_at",
		product.Name, product.Quantity, product.Price, sku)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &product, nil
}

// ApplyDeduction deducts a whole batch in one transaction. Every product row
// of the batch is locked FOR UPDATE in SKU order before anything is
// validated, so concurrent batches over overlapping SKUs serialize and
// cannot deadlock. A non-empty ref makes the call idempotent: once a
// deduction is recorded under ref, later calls return its levels unchanged.
func (s *Store) ApplyDeduction(ctx context.Context, ref string, items []models.LineItem) (models.StockLevels, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rows []struct {
		SKU      string `db:"sku"`
		Quantity int    `db:"quantity"`
	}
	err = tx.SelectContext(ctx, &rows,
		"SELECT sku, quantity FROM products WHERE sku = ANY($1) ORDER BY sku FOR UPDATE",
		pq.Array(models.DistinctSKUs(items)))
	if err != nil {
		return nil, fmt.Errorf("failed to lock inventory: %w", err)
	}

	// Checked after the row locks so a concurrent call with the same ref
	// observes the committed record instead of deducting twice.
	if ref != "" {
		var recorded models.Deduction
		err := tx.GetContext(ctx, &recorded, "SELECT * FROM deductions WHERE reference = $1", ref)
		if err == nil {
			return recorded.Levels, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}
	}

	stock := make(map[string]int, len(rows))
	for _, r := range rows {
		stock[r.SKU] = r.Quantity
	}

	levels, remaining, err := models.PlanDeduction(stock, items)
	if err != nil {
		return nil, err
	}

	for sku, qty := range remaining {
		_, err := tx.ExecContext(ctx,
			"UPDATE products SET quantity = $1, updated_at = NOW() WHERE sku = $2", qty, sku)
		if err != nil {
			return nil, fmt.Errorf("failed to deduct %s: %w", sku, err)
		}
	}

	if ref != "" {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO deductions (reference, items, levels) VALUES ($1, $2, $3)",
			ref, models.LineItems(items), levels)
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("deduction %s recorded concurrently: %w", ref, apperr.ErrConflict)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to record deduction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return levels, nil
}

// GetDeduction retrieves the deduction recorded under ref
func (s *Store) GetDeduction(ctx context.Context, ref string) (*models.Deduction, error) {
	var d models.Deduction
	err := s.db.GetContext(ctx, &d, "SELECT * FROM deductions WHERE reference = $1", ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deduction %s: %w", ref, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
