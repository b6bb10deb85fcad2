package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// Order CSV columns. Any column beyond the header, and a header column named
// "products", hold product names.
const (
	colDeliveryAddress = "delivery_address"
	colPromocode       = "promocode"
	colCreatedAt       = "created_at"
	colUser            = "user"
	colProducts        = "products"
)

// OrderColumns lists the scalar order fields accepted in an order CSV header.
var OrderColumns = []string{colDeliveryAddress, colPromocode, colCreatedAt, colUser}

var createdAtLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// orderLayout locates order columns in a header.
type orderLayout struct {
	scalar   map[string]int
	products int // position of the "products" header column, -1 if absent
	width    int
}

// orderRow is one data row projected onto order fields. line is the stable
// key that ties the row to everything derived from it.
type orderRow struct {
	line            int
	deliveryAddress *string
	promocode       string
	createdAt       time.Time
	username        string
	productNames    []string
}

// ImportOrders decodes an order CSV and ingests it row by row: the owning
// user and every listed product are resolved by exact name, the order is
// persisted on its own, and once the store has assigned it an identity its
// product association is set.
//
// The header is validated before anything is written. The first row that
// fails stops the import; rows before it stay committed with their
// associations. The returned result always reports the orders ingested so
// far, and on failure the line and reason of the failing row.
func (im *Importer) ImportOrders(ctx context.Context, r io.Reader, encoding string) (*OrderResult, error) {
	start := time.Now()
	result := &OrderResult{RunID: newRunID(), Orders: []*shop.Order{}}
	log := runLogger(ctx, "orders", result.RunID, encoding)

	fail := func(err error) (*OrderResult, error) {
		result.Failure = newRowFailure(err)
		result.Duration = time.Since(start)
		log.Warn("order import stopped",
			"error", err,
			"line", result.Failure.Line,
			"ingested", len(result.Orders),
		)
		return result, err
	}

	t, counted, err := im.open(r, encoding)
	result.BytesRead = counted.BytesRead
	if err != nil {
		return fail(err)
	}

	layout, err := orderHeader(t.header)
	if err != nil {
		return fail(err)
	}

	rows := make([]orderRow, 0, len(t.records))
	for _, rec := range t.records {
		if rec.blank() {
			result.Skipped++
			continue
		}
		row, err := im.projectOrder(rec, layout)
		if err != nil {
			return fail(err)
		}
		rows = append(rows, row)
	}

	res := newResolver(im.store)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		order, products, err := im.buildOrder(ctx, res, row)
		if err != nil {
			return fail(err)
		}

		wasNew := order.IsNew()
		if err := im.store.CreateOrder(ctx, order); err != nil {
			return fail(&RowError{Line: row.line, Err: fmt.Errorf("persist order: %w", err)})
		}
		result.Orders = append(result.Orders, order)

		if !wasNew || order.IsNew() {
			// The store did not assign a fresh identity; nothing to associate.
			log.Debug("order not newly created", "line", row.line, "order_id", order.ID)
			continue
		}
		result.Created++

		products = distinctProducts(products)
		ids := make([]int64, len(products))
		for i, p := range products {
			ids[i] = p.ID
		}
		if err := im.store.SetOrderProducts(ctx, order.ID, ids); err != nil {
			return fail(&RowError{Line: row.line, Err: fmt.Errorf("set order products: %w", err)})
		}
		order.Products = products
		log.Debug("order ingested", "line", row.line, "order_id", order.ID, "products", len(products))
	}

	result.Duration = time.Since(start)
	log.Info("order import completed",
		"created", result.Created,
		"skipped", result.Skipped,
		"bytes", result.BytesRead,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// orderHeader validates an order CSV header.
func orderHeader(header []string) (orderLayout, error) {
	idx, err := headerIndex(header)
	if err != nil {
		return orderLayout{}, err
	}

	layout := orderLayout{scalar: make(map[string]int), products: -1, width: len(header)}
	for name, pos := range idx {
		switch name {
		case colDeliveryAddress, colPromocode, colCreatedAt, colUser:
			layout.scalar[name] = pos
		case colProducts:
			layout.products = pos
		default:
			return orderLayout{}, malformed(0, name, "", "unknown order field")
		}
	}
	if _, ok := layout.scalar[colUser]; !ok {
		return orderLayout{}, malformed(0, colUser, "", "missing required column")
	}
	return layout, nil
}

// projectOrder copies the scalar fields of a row and collects its product
// names: the "products" column, if any, followed by every overflow column.
func (im *Importer) projectOrder(rec record, layout orderLayout) (orderRow, error) {
	row := orderRow{line: rec.line, createdAt: im.now()}

	if pos, ok := layout.scalar[colDeliveryAddress]; ok && pos < len(rec.cells) {
		addr := cell(rec.cells, pos)
		row.deliveryAddress = &addr
	}
	if pos, ok := layout.scalar[colPromocode]; ok {
		row.promocode = cell(rec.cells, pos)
		if utf8.RuneCountInString(row.promocode) > shop.MaxPromocodeLen {
			return orderRow{}, malformed(rec.line, colPromocode, row.promocode, "longer than %d characters", shop.MaxPromocodeLen)
		}
	}
	if pos, ok := layout.scalar[colCreatedAt]; ok {
		if raw := cell(rec.cells, pos); raw != "" {
			ts, err := parseCreatedAt(raw)
			if err != nil {
				return orderRow{}, malformed(rec.line, colCreatedAt, raw, "%v", err)
			}
			row.createdAt = ts
		}
	}
	row.username = cell(rec.cells, layout.scalar[colUser])

	if layout.products >= 0 {
		if name := cell(rec.cells, layout.products); name != "" {
			row.productNames = append(row.productNames, name)
		}
	}
	for pos := layout.width; pos < len(rec.cells); pos++ {
		if name := cell(rec.cells, pos); name != "" {
			row.productNames = append(row.productNames, name)
		}
	}
	return row, nil
}

func parseCreatedAt(raw string) (time.Time, error) {
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date")
}

// buildOrder resolves the references of row and constructs its order.
// Nothing is written.
func (im *Importer) buildOrder(ctx context.Context, res *resolver, row orderRow) (*shop.Order, []shop.Product, error) {
	user, err := res.user(ctx, row.username)
	if err != nil {
		return nil, nil, &RowError{Line: row.line, Column: colUser, Value: row.username, Err: err}
	}

	products := make([]shop.Product, 0, len(row.productNames))
	for _, name := range row.productNames {
		p, err := res.product(ctx, name)
		if err != nil {
			return nil, nil, &RowError{Line: row.line, Column: colProducts, Value: name, Err: err}
		}
		products = append(products, p)
	}

	order := shop.NewOrder(user)
	order.DeliveryAddress = row.deliveryAddress
	order.Promocode = row.promocode
	order.CreatedAt = row.createdAt
	return order, products, nil
}

// distinctProducts drops repeated products, keeping first occurrences.
// The association is a set.
func distinctProducts(products []shop.Product) []shop.Product {
	seen := make(map[int64]bool, len(products))
	out := make([]shop.Product, 0, len(products))
	for _, p := range products {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

// resolver performs exact-match lookups, remembering results for the
// duration of one import.
type resolver struct {
	store    shop.Store
	users    map[string]shop.User
	products map[string]shop.Product
}

func newResolver(store shop.Store) *resolver {
	return &resolver{
		store:    store,
		users:    make(map[string]shop.User),
		products: make(map[string]shop.Product),
	}
}

func (r *resolver) user(ctx context.Context, username string) (shop.User, error) {
	if u, ok := r.users[username]; ok {
		return u, nil
	}
	u, err := r.store.UserByUsername(ctx, username)
	switch {
	case errors.Is(err, shop.ErrNotFound):
		return shop.User{}, ErrUserNotFound
	case err != nil:
		return shop.User{}, fmt.Errorf("lookup user: %w", err)
	}
	r.users[username] = u
	return u, nil
}

func (r *resolver) product(ctx context.Context, name string) (shop.Product, error) {
	if p, ok := r.products[name]; ok {
		return p, nil
	}
	p, err := r.store.ProductByName(ctx, name)
	switch {
	case errors.Is(err, shop.ErrNotFound):
		return shop.Product{}, ErrProductNotFound
	case errors.Is(err, shop.ErrMultipleFound):
		return shop.Product{}, ErrAmbiguousProduct
	case err != nil:
		return shop.Product{}, fmt.Errorf("lookup product: %w", err)
	}
	r.products[name] = p
	return p, nil
}
