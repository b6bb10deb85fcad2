package ingest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// Product CSV columns. The header may name any subset, in any order.
const (
	colName        = "name"
	colDescription = "description"
	colPrice       = "price"
	colDiscount    = "discount"
)

// ProductColumns lists the product fields accepted in a product CSV header,
// in export order.
var ProductColumns = []string{colName, colDescription, colPrice, colDiscount}

// maxPrice is the first value that no longer fits numeric(8,2).
var maxPrice = decimal.New(1, shop.MaxPriceDigits-shop.PriceScale)

// ImportProducts decodes a product CSV and inserts one product per data row
// in a single bulk operation.
//
// Nothing is written unless every row is valid; the first invalid row is
// returned as a *RowError and described in the result's Failure. Products
// are not deduplicated: importing the same file twice creates every
// product twice.
func (im *Importer) ImportProducts(ctx context.Context, r io.Reader, encoding string) (*ProductResult, error) {
	start := time.Now()
	result := &ProductResult{RunID: newRunID()}
	log := runLogger(ctx, "products", result.RunID, encoding)

	fail := func(err error) (*ProductResult, error) {
		result.Failure = newRowFailure(err)
		result.Products = nil
		result.Duration = time.Since(start)
		log.Warn("product import failed", "error", err, "line", result.Failure.Line)
		return result, err
	}

	t, counted, err := im.open(r, encoding)
	result.BytesRead = counted.BytesRead
	if err != nil {
		return fail(err)
	}

	idx, err := productHeader(t.header)
	if err != nil {
		return fail(err)
	}

	products := make([]*shop.Product, 0, len(t.records))
	for _, rec := range t.records {
		if rec.blank() {
			result.Skipped++
			continue
		}
		p, err := im.buildProduct(rec, t.header, idx)
		if err != nil {
			return fail(err)
		}
		products = append(products, p)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	if err := im.store.BulkCreateProducts(ctx, products); err != nil {
		return fail(fmt.Errorf("bulk create products: %w", err))
	}

	result.Products = products
	result.Duration = time.Since(start)
	log.Info("product import completed",
		"created", len(products),
		"skipped", result.Skipped,
		"bytes", result.BytesRead,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// productHeader validates a product CSV header.
func productHeader(header []string) (map[string]int, error) {
	idx, err := headerIndex(header)
	if err != nil {
		return nil, err
	}
	for _, h := range header {
		if !isProductColumn(h) {
			return nil, malformed(0, h, "", "unknown product field")
		}
	}
	return idx, nil
}

func isProductColumn(name string) bool {
	for _, c := range ProductColumns {
		if c == name {
			return true
		}
	}
	return false
}

// buildProduct constructs a product from one row. Columns absent from the
// header, and empty cells, keep the product defaults.
func (im *Importer) buildProduct(rec record, header []string, idx map[string]int) (*shop.Product, error) {
	if len(rec.cells) != len(header) {
		return nil, malformed(rec.line, "", "", "expected %d columns, got %d", len(header), len(rec.cells))
	}

	p := shop.NewProduct()
	p.CreatedAt = im.now()

	if pos, ok := idx[colName]; ok {
		p.Name = cell(rec.cells, pos)
		if utf8.RuneCountInString(p.Name) > shop.MaxProductNameLen {
			return nil, malformed(rec.line, colName, p.Name, "longer than %d characters", shop.MaxProductNameLen)
		}
	}
	if pos, ok := idx[colDescription]; ok {
		p.Description = cell(rec.cells, pos)
	}
	if pos, ok := idx[colPrice]; ok {
		if raw := cell(rec.cells, pos); raw != "" {
			price, err := parsePrice(raw)
			if err != nil {
				return nil, malformed(rec.line, colPrice, raw, "%v", err)
			}
			p.Price = price
		}
	}
	if pos, ok := idx[colDiscount]; ok {
		if raw := cell(rec.cells, pos); raw != "" {
			d, err := strconv.ParseInt(raw, 10, 16)
			if err != nil {
				return nil, malformed(rec.line, colDiscount, raw, "invalid number")
			}
			p.Discount = int16(d)
		}
	}
	return p, nil
}

// parsePrice parses a decimal price, rounding to the stored scale.
func parsePrice(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number")
	}
	d = d.Round(shop.PriceScale)
	if d.Abs().GreaterThanOrEqual(maxPrice) {
		return decimal.Zero, fmt.Errorf("out of range, must be below %s", maxPrice)
	}
	return d, nil
}
