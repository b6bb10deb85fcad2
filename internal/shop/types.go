// Package shop defines the catalog domain: users, products, orders, and the
// store interfaces the ingestion engine and HTTP layer depend on.
// It has no storage or transport dependencies.
package shop

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Field limits mirrored by the relational schema.
const (
	MaxProductNameLen = 100
	MaxPromocodeLen   = 20
	PriceScale        = 2
	MaxPriceDigits    = 8
)

// User is an externally owned identity. Ingestion only ever resolves users.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Product is a sellable catalog item.
// ID is zero until the store assigns one.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Discount    int16           `json:"discount"`
	CreatedAt   time.Time       `json:"created_at"`
	Archived    bool            `json:"archived"`
}

// NewProduct returns a Product carrying the model defaults.
func NewProduct() *Product {
	return &Product{
		Price:     decimal.Zero,
		CreatedAt: time.Now().UTC(),
	}
}

// IsNew reports whether the product has not been persisted yet.
func (p *Product) IsNew() bool { return p.ID == 0 }

// Order is a purchase placed by a user for a set of products.
// ID is zero until the store assigns one; Products is only meaningful
// once the order itself has been persisted.
type Order struct {
	ID              int64     `json:"id"`
	DeliveryAddress *string   `json:"delivery_address"`
	Promocode       string    `json:"promocode"`
	CreatedAt       time.Time `json:"created_at"`
	User            User      `json:"user"`
	Products        []Product `json:"products"`
}

// NewOrder returns an Order for user carrying the model defaults.
func NewOrder(user User) *Order {
	return &Order{
		User:      user,
		CreatedAt: time.Now().UTC(),
	}
}

// IsNew reports whether the order has not been persisted yet.
func (o *Order) IsNew() bool { return o.ID == 0 }

// ProductIDs returns the ids of the associated products in order.
func (o *Order) ProductIDs() []int64 {
	ids := make([]int64, len(o.Products))
	for i, p := range o.Products {
		ids[i] = p.ID
	}
	return ids
}

// ListOptions narrows and orders list queries.
type ListOptions struct {
	// Search is a case-insensitive substring matched against the
	// searchable fields of the entity.
	Search string
	// Ordering names a sortable field, "-" prefix for descending.
	Ordering string
	// UserID restricts order listings to one owner when non-zero.
	UserID int64
}

// UserStore resolves users.
type UserStore interface {
	// UserByUsername returns the user with exactly this username,
	// ErrNotFound if there is none.
	UserByUsername(ctx context.Context, username string) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
}

// ProductStore persists and resolves products.
type ProductStore interface {
	// BulkCreateProducts inserts all products in one operation and sets
	// their ids. Either every product is inserted or none is.
	BulkCreateProducts(ctx context.Context, products []*Product) error
	// ProductByName returns the product with exactly this name.
	// ErrNotFound if none exists, ErrMultipleFound if more than one does.
	ProductByName(ctx context.Context, name string) (Product, error)
	ListProducts(ctx context.Context, opts ListOptions) ([]Product, error)
}

// OrderStore persists orders and their product associations.
type OrderStore interface {
	// CreateOrder inserts a single order and sets its id.
	CreateOrder(ctx context.Context, order *Order) error
	// SetOrderProducts replaces the product association of an existing order.
	SetOrderProducts(ctx context.Context, orderID int64, productIDs []int64) error
	ListOrders(ctx context.Context, opts ListOptions) ([]Order, error)
}

// Store is the full record store the application runs against.
type Store interface {
	UserStore
	ProductStore
	OrderStore
}
