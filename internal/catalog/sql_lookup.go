package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// SQLLookup reads the catalog from Postgres tables maintained by the storefront.
type SQLLookup struct {
	db *sql.DB
}

// NewSQLLookup wraps an open database handle.
func NewSQLLookup(db *sql.DB) *SQLLookup {
	if db == nil {
		panic("catalog: sql db required")
	}
	return &SQLLookup{db: db}
}

var _ Lookup = (*SQLLookup)(nil)

func (l *SQLLookup) Categories(ctx context.Context) ([]Category, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, title, description
		FROM catalog_categories
		WHERE active
		ORDER BY position, title
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list categories: %w", err)
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Title, &c.Description); err != nil {
			return nil, fmt.Errorf("catalog: scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (l *SQLLookup) ListProducts(ctx context.Context, categoryID string, limit int) ([]ProductRef, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, category_id, name, description, highlights
		FROM catalog_products
		WHERE category_id = $1 AND active
		ORDER BY position, name
		LIMIT $2
	`, categoryID, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	defer rows.Close()

	var out []ProductRef
	for rows.Next() {
		var p ProductRef
		if err := rows.Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, pq.Array(&p.Highlights)); err != nil {
			return nil, fmt.Errorf("catalog: scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *SQLLookup) ProductName(ctx context.Context, productID string) (string, bool, error) {
	p, ok, err := l.Product(ctx, productID)
	if err != nil || !ok {
		return "", false, err
	}
	return p.Name, true, nil
}

func (l *SQLLookup) Product(ctx context.Context, productID string) (ProductRef, bool, error) {
	var p ProductRef
	err := l.db.QueryRowContext(ctx, `
		SELECT id, category_id, name, description, highlights
		FROM catalog_products
		WHERE id = $1 AND active
	`, productID).Scan(&p.ID, &p.CategoryID, &p.Name, &p.Description, pq.Array(&p.Highlights))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ProductRef{}, false, nil
		}
		return ProductRef{}, false, fmt.Errorf("catalog: get product: %w", err)
	}
	return p, true, nil
}
