package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joao-fontenele/storefront-otel-demo/internal/domain"
)

// ProductColumns is the select list matching ScanProduct.
const ProductColumns = `id, slug, name, description, price, old_price, stock_qty,
	is_active, is_new, is_hit, is_sale, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// ScanProduct reads one row selected with ProductColumns.
func ScanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var description sql.NullString
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &description, &p.Price, &p.OldPrice, &p.StockQty,
		&p.IsActive, &p.IsNew, &p.IsHit, &p.IsSale, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		p.Description = &description.String
	}
	return &p, nil
}

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByID returns the product regardless of its active flag, or (nil, nil).
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	p, err := ScanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+ProductColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *ProductRepository) GetBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	p, err := ScanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+ProductColumns+` FROM products WHERE slug = $1`, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListActive returns one page of active products, newest first, along with
// the total number of active products.
func (r *ProductRepository) ListActive(ctx context.Context, limit, offset int) ([]domain.Product, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE is_active`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ProductColumns+`
		FROM products
		WHERE is_active
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		p, err := ScanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return products, total, nil
}
