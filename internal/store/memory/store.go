// Package memory provides an in-memory implementation of shop.Store.
//
// It is used by tests and by dry-run imports. Identity assignment is
// sequential per entity, starting at 1, mirroring a serial primary key.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

// Store is a goroutine-safe in-memory record store.
type Store struct {
	mu sync.RWMutex

	users    map[int64]shop.User
	products map[int64]shop.Product
	orders   map[int64]shop.Order
	// orderProducts holds the join relation: order id -> product ids.
	orderProducts map[int64][]int64

	nextUserID    int64
	nextProductID int64
	nextOrderID   int64
}

var _ shop.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[int64]shop.User),
		products:      make(map[int64]shop.Product),
		orders:        make(map[int64]shop.Order),
		orderProducts: make(map[int64][]int64),
	}
}

// CreateUser adds a user and returns it with its id.
func (s *Store) CreateUser(_ context.Context, username string) (shop.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return shop.User{}, fmt.Errorf("create user %q: username already taken", username)
		}
	}
	s.nextUserID++
	u := shop.User{ID: s.nextUserID, Username: username}
	s.users[u.ID] = u
	return u, nil
}

// UserByUsername implements shop.UserStore.
func (s *Store) UserByUsername(_ context.Context, username string) (shop.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return shop.User{}, shop.ErrNotFound
}

// UserByID implements shop.UserStore.
func (s *Store) UserByID(_ context.Context, id int64) (shop.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return shop.User{}, shop.ErrNotFound
	}
	return u, nil
}

// BulkCreateProducts implements shop.ProductStore. Validation runs over the
// whole batch before anything is stored.
func (s *Store) BulkCreateProducts(_ context.Context, products []*shop.Product) error {
	for i, p := range products {
		if p == nil {
			return fmt.Errorf("bulk create products: nil product at %d", i)
		}
		if utf8.RuneCountInString(p.Name) > shop.MaxProductNameLen {
			return fmt.Errorf("bulk create products: name too long at %d", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range products {
		s.nextProductID++
		p.ID = s.nextProductID
		s.products[p.ID] = *p
	}
	return nil
}

// ProductByName implements shop.ProductStore.
func (s *Store) ProductByName(_ context.Context, name string) (shop.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found shop.Product
		n     int
	)
	for _, p := range s.products {
		if p.Name == name {
			found = p
			n++
		}
	}
	switch n {
	case 0:
		return shop.Product{}, shop.ErrNotFound
	case 1:
		return found, nil
	default:
		return shop.Product{}, shop.ErrMultipleFound
	}
}

// ListProducts implements shop.ProductStore.
func (s *Store) ListProducts(_ context.Context, opts shop.ListOptions) ([]shop.Product, error) {
	field, desc, err := shop.ParseOrdering(opts.Ordering, shop.ProductOrderingFields)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]shop.Product, 0, len(s.products))
	for _, p := range s.products {
		if opts.Search != "" && !containsFold(p.Name, opts.Search) && !containsFold(p.Description, opts.Search) {
			continue
		}
		result = append(result, p)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if field != "" {
		sort.SliceStable(result, func(i, j int) bool {
			a, b := result[i], result[j]
			if desc {
				a, b = b, a
			}
			switch field {
			case "price":
				return a.Price.LessThan(b.Price)
			case "discount":
				return a.Discount < b.Discount
			default:
				return a.Name < b.Name
			}
		})
	}
	return result, nil
}

// CreateOrder implements shop.OrderStore.
func (s *Store) CreateOrder(_ context.Context, order *shop.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[order.User.ID]; !ok {
		return fmt.Errorf("create order: violates foreign key constraint on user %d", order.User.ID)
	}
	if utf8.RuneCountInString(order.Promocode) > shop.MaxPromocodeLen {
		return fmt.Errorf("create order: promocode longer than %d", shop.MaxPromocodeLen)
	}

	s.nextOrderID++
	order.ID = s.nextOrderID
	stored := *order
	stored.Products = nil
	s.orders[order.ID] = stored
	return nil
}

// SetOrderProducts implements shop.OrderStore.
func (s *Store) SetOrderProducts(_ context.Context, orderID int64, productIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return fmt.Errorf("set order products: order %d: %w", orderID, shop.ErrNotFound)
	}
	seen := make(map[int64]bool, len(productIDs))
	ids := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := s.products[id]; !ok {
			return fmt.Errorf("set order products: violates foreign key constraint on product %d", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	s.orderProducts[orderID] = ids
	return nil
}

// ListOrders implements shop.OrderStore. Orders carry their products.
func (s *Store) ListOrders(_ context.Context, opts shop.ListOptions) ([]shop.Order, error) {
	field, desc, err := shop.ParseOrdering(opts.Ordering, shop.OrderOrderingFields)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]shop.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if opts.UserID != 0 && o.User.ID != opts.UserID {
			continue
		}
		if opts.Search != "" {
			addr := ""
			if o.DeliveryAddress != nil {
				addr = *o.DeliveryAddress
			}
			if !containsFold(addr, opts.Search) && !containsFold(o.User.Username, opts.Search) {
				continue
			}
		}
		for _, id := range s.orderProducts[o.ID] {
			o.Products = append(o.Products, s.products[id])
		}
		result = append(result, o)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if field != "" {
		sort.SliceStable(result, func(i, j int) bool {
			a, b := result[i], result[j]
			if desc {
				a, b = b, a
			}
			switch field {
			case "created_at":
				return a.CreatedAt.Before(b.CreatedAt)
			case "user":
				return a.User.ID < b.User.ID
			default:
				return deref(a.DeliveryAddress) < deref(b.DeliveryAddress)
			}
		})
	}
	return result, nil
}

// OrderProductIDs returns the join relation contents for one order.
func (s *Store) OrderProductIDs(orderID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int64(nil), s.orderProducts[orderID]...)
}

// Counts returns the number of stored products and orders.
func (s *Store) Counts() (products, orders int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), len(s.orders)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
