package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shopcsv/internal/shop"
)

func TestStore_UserLookup(t *testing.T) {
	ctx := context.Background()
	s := New()

	alice, err := s.CreateUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), alice.ID)

	_, err = s.CreateUser(ctx, "alice")
	assert.Error(t, err)

	got, err := s.UserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	_, err = s.UserByUsername(ctx, "Alice")
	assert.ErrorIs(t, err, shop.ErrNotFound)

	_, err = s.UserByID(ctx, 42)
	assert.ErrorIs(t, err, shop.ErrNotFound)
}

func TestStore_BulkCreateProductsAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	s := New()

	products := []*shop.Product{
		{Name: "Widget", Price: decimal.RequireFromString("9.99")},
		{Name: "Gadget", Price: decimal.RequireFromString("19.50")},
		{Name: "Widget", Price: decimal.RequireFromString("9.99")},
	}
	require.NoError(t, s.BulkCreateProducts(ctx, products))

	seen := map[int64]bool{}
	for _, p := range products {
		assert.NotZero(t, p.ID)
		assert.False(t, seen[p.ID], "duplicate id %d", p.ID)
		seen[p.ID] = true
	}

	all, err := s.ListProducts(ctx, shop.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.ProductByName(ctx, "Widget")
	assert.ErrorIs(t, err, shop.ErrMultipleFound)

	g, err := s.ProductByName(ctx, "Gadget")
	require.NoError(t, err)
	assert.Equal(t, products[1].ID, g.ID)
}

func TestStore_BulkCreateProductsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()

	long := make([]byte, shop.MaxProductNameLen+1)
	for i := range long {
		long[i] = 'x'
	}
	err := s.BulkCreateProducts(ctx, []*shop.Product{{Name: "ok"}, {Name: string(long)}})
	require.Error(t, err)

	products, _ := s.Counts()
	assert.Zero(t, products)
}

func TestStore_ListProductsSearchAndOrdering(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.BulkCreateProducts(ctx, []*shop.Product{
		{Name: "Bolt", Description: "steel", Price: decimal.RequireFromString("1.00")},
		{Name: "Anchor", Description: "heavy steel", Price: decimal.RequireFromString("30.00")},
		{Name: "Cable", Description: "copper", Price: decimal.RequireFromString("5.00")},
	}))

	got, err := s.ListProducts(ctx, shop.ListOptions{Search: "STEEL", Ordering: "-price"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Anchor", got[0].Name)
	assert.Equal(t, "Bolt", got[1].Name)

	_, err = s.ListProducts(ctx, shop.ListOptions{Ordering: "archived"})
	assert.Error(t, err)
}

func TestStore_OrdersAndAssociations(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice, _ := s.CreateUser(ctx, "alice")
	bob, _ := s.CreateUser(ctx, "bob")

	p := []*shop.Product{{Name: "Widget"}, {Name: "Gadget"}}
	require.NoError(t, s.BulkCreateProducts(ctx, p))

	o1 := shop.NewOrder(alice)
	require.NoError(t, s.CreateOrder(ctx, o1))
	o2 := shop.NewOrder(bob)
	require.NoError(t, s.CreateOrder(ctx, o2))
	assert.NotEqual(t, o1.ID, o2.ID)

	require.NoError(t, s.SetOrderProducts(ctx, o1.ID, []int64{p[0].ID, p[1].ID, p[0].ID}))
	assert.Equal(t, []int64{p[0].ID, p[1].ID}, s.OrderProductIDs(o1.ID))

	// set replaces, it does not append
	require.NoError(t, s.SetOrderProducts(ctx, o1.ID, []int64{p[1].ID}))
	assert.Equal(t, []int64{p[1].ID}, s.OrderProductIDs(o1.ID))

	err := s.SetOrderProducts(ctx, 99, nil)
	assert.ErrorIs(t, err, shop.ErrNotFound)

	orders, err := s.ListOrders(ctx, shop.ListOptions{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, o1.ID, orders[0].ID)
	require.Len(t, orders[0].Products, 1)
	assert.Equal(t, "Gadget", orders[0].Products[0].Name)
}

func TestStore_CreateOrderRejectsUnknownUser(t *testing.T) {
	s := New()
	err := s.CreateOrder(context.Background(), shop.NewOrder(shop.User{ID: 5, Username: "ghost"}))
	assert.Error(t, err)
}

func TestStore_LengthLimitsCountCharacters(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice, _ := s.CreateUser(ctx, "alice")

	// 20 two-byte runes fit a 20 character promocode.
	o := shop.NewOrder(alice)
	o.Promocode = strings.Repeat("é", shop.MaxPromocodeLen)
	require.NoError(t, s.CreateOrder(ctx, o))

	o = shop.NewOrder(alice)
	o.Promocode = strings.Repeat("é", shop.MaxPromocodeLen+1)
	assert.Error(t, s.CreateOrder(ctx, o))

	name := strings.Repeat("ж", shop.MaxProductNameLen)
	require.NoError(t, s.BulkCreateProducts(ctx, []*shop.Product{{Name: name}}))
	assert.Error(t, s.BulkCreateProducts(ctx, []*shop.Product{{Name: name + "ж"}}))
}

func TestStore_OrderSearchMatchesAddressAndUsername(t *testing.T) {
	ctx := context.Background()
	s := New()
	alice, _ := s.CreateUser(ctx, "alice")
	bob, _ := s.CreateUser(ctx, "bob")

	addr := "12 Baker Street"
	o1 := shop.NewOrder(alice)
	o1.DeliveryAddress = &addr
	require.NoError(t, s.CreateOrder(ctx, o1))
	o2 := shop.NewOrder(bob)
	require.NoError(t, s.CreateOrder(ctx, o2))

	got, err := s.ListOrders(ctx, shop.ListOptions{Search: "baker"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o1.ID, got[0].ID)

	got, err = s.ListOrders(ctx, shop.ListOptions{Search: "BOB"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, o2.ID, got[0].ID)
}
