package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

const insertProductSQL = `INSERT INTO products (name, description, price, discount, created_at, archived)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

const selectProductSQL = `SELECT id, name, description, price, discount, created_at, archived FROM products`

var productColumns = map[string]string{
	"name":     "name",
	"price":    "price",
	"discount": "discount",
}

// BulkCreateProducts implements shop.ProductStore.
//
// All inserts are queued in a single batch inside one transaction, so the
// batch costs one round trip and is atomic. RETURNING gives each product
// its id, which COPY cannot.
func (s *Store) BulkCreateProducts(ctx context.Context, products []*shop.Product) error {
	if len(products) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	batch := &pgx.Batch{}
	for i, p := range products {
		price, err := toPgNumeric(p.Price)
		if err != nil {
			return fmt.Errorf("product %d: %w", i, err)
		}
		batch.Queue(insertProductSQL, p.Name, p.Description, price, p.Discount, p.CreatedAt, p.Archived)
	}

	results := tx.SendBatch(ctx, batch)
	ids := make([]int64, len(products))
	for i := range products {
		if err := results.QueryRow().Scan(&ids[i]); err != nil {
			results.Close()
			return fmt.Errorf("insert product %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	// Only publish ids once the batch is durable.
	for i, p := range products {
		p.ID = ids[i]
	}
	return nil
}

// ProductByName implements shop.ProductStore.
func (s *Store) ProductByName(ctx context.Context, name string) (shop.Product, error) {
	rows, err := s.pool.Query(ctx, selectProductSQL+` WHERE name = $1 ORDER BY id LIMIT 2`, name)
	if err != nil {
		return shop.Product{}, fmt.Errorf("product by name: %w", err)
	}
	products, err := collectProducts(rows)
	if err != nil {
		return shop.Product{}, err
	}
	switch len(products) {
	case 0:
		return shop.Product{}, shop.ErrNotFound
	case 1:
		return products[0], nil
	default:
		return shop.Product{}, shop.ErrMultipleFound
	}
}

// ListProducts implements shop.ProductStore.
func (s *Store) ListProducts(ctx context.Context, opts shop.ListOptions) ([]shop.Product, error) {
	order, err := orderClause(opts.Ordering, shop.ProductOrderingFields, productColumns, "id")
	if err != nil {
		return nil, err
	}

	query := selectProductSQL
	var args []any
	if opts.Search != "" {
		query += ` WHERE name ILIKE $1 OR description ILIKE $1`
		args = append(args, likePattern(opts.Search))
	}
	query += order

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return collectProducts(rows)
}

func collectProducts(rows pgx.Rows) ([]shop.Product, error) {
	defer rows.Close()

	var products []shop.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// scanProduct scans the columns of selectProductSQL.
func scanProduct(row pgx.Row) (shop.Product, error) {
	var (
		p     shop.Product
		price pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Discount, &p.CreatedAt, &p.Archived); err != nil {
		return shop.Product{}, fmt.Errorf("scan product: %w", err)
	}
	d, err := fromPgNumeric(price)
	if err != nil {
		return shop.Product{}, fmt.Errorf("product %d price: %w", p.ID, err)
	}
	p.Price = d
	return p, nil
}
