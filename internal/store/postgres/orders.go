package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

var orderColumns = map[string]string{
	"delivery_address": "o.delivery_address",
	"created_at":       "o.created_at",
	"user":             "o.user_id",
}

// CreateOrder implements shop.OrderStore.
func (s *Store) CreateOrder(ctx context.Context, order *shop.Order) error {
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO orders (delivery_address, promocode, created_at, user_id)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		toPgText(order.DeliveryAddress), order.Promocode, order.CreatedAt, order.User.ID,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.ID = id
	return nil
}

// SetOrderProducts implements shop.OrderStore. The previous association is
// replaced inside one transaction; the new rows are written with COPY.
func (s *Store) SetOrderProducts(ctx context.Context, orderID int64, productIDs []int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&locked)
	if err != nil {
		return fmt.Errorf("set order products: order %d: %w", orderID, translate(err))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM order_products WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("clear order products: %w", err)
	}

	seen := make(map[int64]bool, len(productIDs))
	rows := make([][]any, 0, len(productIDs))
	for _, pid := range productIDs {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		rows = append(rows, []any{orderID, pid})
	}

	if len(rows) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"order_products"},
			[]string{"order_id", "product_id"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy order products: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListOrders implements shop.OrderStore. Products are loaded with one
// extra query for the whole page.
func (s *Store) ListOrders(ctx context.Context, opts shop.ListOptions) ([]shop.Order, error) {
	order, err := orderClause(opts.Ordering, shop.OrderOrderingFields, orderColumns, "o.id")
	if err != nil {
		return nil, err
	}

	query := `SELECT o.id, o.delivery_address, o.promocode, o.created_at, u.id, u.username
		FROM orders o JOIN users u ON u.id = o.user_id WHERE TRUE`
	var args []any
	if opts.UserID != 0 {
		args = append(args, opts.UserID)
		query += fmt.Sprintf(` AND o.user_id = $%d`, len(args))
	}
	if opts.Search != "" {
		args = append(args, likePattern(opts.Search))
		query += fmt.Sprintf(` AND (o.delivery_address ILIKE $%[1]d OR u.username ILIKE $%[1]d)`, len(args))
	}
	query += order

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	var (
		orders []shop.Order
		ids    []int64
	)
	for rows.Next() {
		var (
			o    shop.Order
			addr pgtype.Text
		)
		if err := rows.Scan(&o.ID, &addr, &o.Promocode, &o.CreatedAt, &o.User.ID, &o.User.Username); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.DeliveryAddress = fromPgText(addr)
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	if len(ids) == 0 {
		return orders, nil
	}

	byOrder, err := s.orderProducts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Products = byOrder[orders[i].ID]
	}
	return orders, nil
}

// orderProducts loads the associated products for the given orders.
func (s *Store) orderProducts(ctx context.Context, orderIDs []int64) (map[int64][]shop.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT op.order_id, p.id, p.name, p.description, p.price, p.discount, p.created_at, p.archived
		 FROM order_products op JOIN products p ON p.id = op.product_id
		 WHERE op.order_id = ANY($1)
		 ORDER BY op.order_id, p.id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order products: %w", err)
	}
	defer rows.Close()

	result := make(map[int64][]shop.Product, len(orderIDs))
	for rows.Next() {
		var (
			orderID int64
			p       shop.Product
			price   pgtype.Numeric
		)
		if err := rows.Scan(&orderID, &p.ID, &p.Name, &p.Description, &price, &p.Discount, &p.CreatedAt, &p.Archived); err != nil {
			return nil, fmt.Errorf("scan order product: %w", err)
		}
		if p.Price, err = fromPgNumeric(price); err != nil {
			return nil, fmt.Errorf("product %d price: %w", p.ID, err)
		}
		result[orderID] = append(result[orderID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order products: %w", err)
	}
	return result, nil
}
