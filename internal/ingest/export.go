package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// WriteProductsCSV writes products as CSV with a ProductColumns header.
// The output is accepted unchanged by ImportProducts.
func WriteProductsCSV(w io.Writer, products []shop.Product) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ProductColumns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range products {
		row := []string{
			p.Name,
			p.Description,
			p.Price.StringFixed(shop.PriceScale),
			strconv.Itoa(int(p.Discount)),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write product %d: %w", p.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
