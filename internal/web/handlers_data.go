package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/shopcsv/internal/ingest"
	"github.com/JonMunkholm/shopcsv/internal/logging"
	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// errBadParam marks an unusable query or path parameter.
var errBadParam = errors.New("invalid parameter")

// productsExportName is the attachment name of the products CSV download.
const productsExportName = "products-export.csv"

// orderExport is the exported shape of an order: references by id.
type orderExport struct {
	ID              int64     `json:"id"`
	DeliveryAddress *string   `json:"delivery_address"`
	Promocode       string    `json:"promocode"`
	CreatedAt       time.Time `json:"created_at"`
	User            int64     `json:"user"`
	Products        []int64   `json:"products"`
}

// listOptions reads search, ordering and user from the query string.
func listOptions(r *http.Request) (shop.ListOptions, error) {
	q := r.URL.Query()
	opts := shop.ListOptions{
		Search:   q.Get("search"),
		Ordering: q.Get("ordering"),
	}
	if raw := q.Get("user"); raw != "" {
		id, err := parseID(raw)
		if err != nil {
			return opts, fmt.Errorf("user: %w", err)
		}
		opts.UserID = id
	}
	return opts, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w %q: expected a positive id", errBadParam, raw)
	}
	return id, nil
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	products, err := s.store.ListProducts(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleDownloadProductsCSV streams the filtered product list in the format
// the product import accepts.
func (s *Server) handleDownloadProductsCSV(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	products, err := s.store.ListProducts(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, productsExportName))
	if err := ingest.WriteProductsCSV(w, products); err != nil {
		// Headers are already sent.
		logging.FromContext(r.Context()).Error("products export failed", "error", err)
	}
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	orders, err := s.store.ListOrders(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleExportOrders(w http.ResponseWriter, r *http.Request) {
	s.exportOrders(w, r, shop.ListOptions{})
}

func (s *Server) handleExportUserOrders(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "userID"))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("user id: %w", err))
		return
	}
	if _, err := s.store.UserByID(r.Context(), id); err != nil {
		s.respondError(w, r, fmt.Errorf("user %d: %w", id, err))
		return
	}
	s.exportOrders(w, r, shop.ListOptions{UserID: id})
}

func (s *Server) exportOrders(w http.ResponseWriter, r *http.Request, opts shop.ListOptions) {
	orders, err := s.store.ListOrders(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]orderExport, len(orders))
	for i, o := range orders {
		out[i] = orderExport{
			ID:              o.ID,
			DeliveryAddress: o.DeliveryAddress,
			Promocode:       o.Promocode,
			CreatedAt:       o.CreatedAt,
			User:            o.User.ID,
			Products:        o.ProductIDs(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}
