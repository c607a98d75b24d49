package lookup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
)

type fakeAPI struct {
	customers []cin7.Customer
	products  []cin7.Product
	truncated bool
	failAll   bool

	// preloadLimit caps how many records GetAll* return, marking the
	// catalog truncated.
	preloadLimit int

	calls map[string]int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		customers: []cin7.Customer{
			{ID: "C1", Name: "Great South Bay Brewing", Email: "orders@gsb.test"},
			{ID: "C2", Name: "Blue Point Brewing"},
		},
		products: []cin7.Product{
			{ID: "P1", Name: "Blonde Ale 1/2 BBL", SKU: "gsb-blonde"},
		},
		calls: make(map[string]int),
	}
}

var okResp = cin7.Response{OK: true, Status: 200, Message: "Success"}

func (f *fakeAPI) SearchCustomersByName(_ context.Context, name string) ([]cin7.Customer, cin7.Response) {
	f.calls["search"]++
	var out []cin7.Customer
	for _, c := range f.customers {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out, okResp
}

func (f *fakeAPI) GetCustomerByID(_ context.Context, id string) (*cin7.Customer, cin7.Response) {
	f.calls["id"]++
	for _, c := range f.customers {
		if c.ID == id {
			return &c, okResp
		}
	}
	return nil, okResp
}

func (f *fakeAPI) GetCustomerByEmail(_ context.Context, email string) (*cin7.Customer, cin7.Response) {
	f.calls["email"]++
	for _, c := range f.customers {
		if c.Email == email {
			return &c, okResp
		}
	}
	return nil, okResp
}

func (f *fakeAPI) GetProductBySKU(_ context.Context, sku string) (*cin7.Product, cin7.Response) {
	f.calls["sku"]++
	for _, p := range f.products {
		if p.SKU == sku {
			return &p, okResp
		}
	}
	return nil, okResp
}

func (f *fakeAPI) GetAllCustomers(context.Context) (cin7.Catalog[cin7.Customer], cin7.Response) {
	f.calls["all_customers"]++
	if f.failAll {
		return cin7.Catalog[cin7.Customer]{}, cin7.Response{Status: 401, Message: "Authentication failed. Check your credentials."}
	}
	items, truncated := f.customers, f.truncated
	if f.preloadLimit > 0 && f.preloadLimit < len(items) {
		items, truncated = items[:f.preloadLimit], true
	}
	return cin7.Catalog[cin7.Customer]{Items: items, Total: len(f.customers), Pages: 1, Truncated: truncated}, okResp
}

func (f *fakeAPI) GetAllProducts(context.Context) (cin7.Catalog[cin7.Product], cin7.Response) {
	f.calls["all_products"]++
	if f.failAll {
		return cin7.Catalog[cin7.Product]{}, cin7.Response{Status: 401, Message: "Authentication failed. Check your credentials."}
	}
	items, truncated := f.products, false
	if f.preloadLimit > 0 && f.preloadLimit < len(items) {
		items, truncated = items[:f.preloadLimit], true
	}
	return cin7.Catalog[cin7.Product]{Items: items, Total: len(f.products), Pages: 1, Truncated: truncated}, okResp
}

func TestPreloadAvoidsLiveCalls(t *testing.T) {
	api := newFakeAPI()
	r := NewResolver(api, nil)
	ctx := context.Background()

	stats, err := r.Preload(ctx)
	require.NoError(t, err)
	assert.Equal(t, PreloadStats{Customers: 2, Products: 1}, stats)
	assert.True(t, r.CustomersLoaded())
	assert.True(t, r.ProductsLoaded())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact", "Great South Bay Brewing", "C1"},
		{"upper", "GREAT SOUTH BAY BREWING", "C1"},
		{"lower", "great south bay brewing", "C1"},
		{"padded", "  Blue Point Brewing ", "C2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := r.CustomerByName(ctx, tt.in)
			require.NotNil(t, c)
			assert.Equal(t, tt.want, c.ID)
		})
	}

	assert.Nil(t, r.CustomerByName(ctx, "Unknown Pub"))
	assert.Nil(t, r.CustomerByID(ctx, "C9"))
	require.NotNil(t, r.CustomerByID(ctx, "C2"))
	require.NotNil(t, r.CustomerByEmail(ctx, "ORDERS@gsb.test"))

	p := r.ProductBySKU(ctx, "GSB-BLONDE")
	require.NotNil(t, p)
	assert.Equal(t, "P1", p.ID)
	assert.Nil(t, r.ProductBySKU(ctx, "NOPE-404"))

	assert.Zero(t, api.calls["search"])
	assert.Zero(t, api.calls["id"])
	assert.Zero(t, api.calls["email"])
	assert.Zero(t, api.calls["sku"])
}

func TestLiveLookupsCacheMisses(t *testing.T) {
	api := newFakeAPI()
	r := NewResolver(api, nil)
	ctx := context.Background()

	assert.Nil(t, r.ProductBySKU(ctx, "NOPE-404"))
	assert.Nil(t, r.ProductBySKU(ctx, "NOPE-404"))
	assert.Equal(t, 1, api.calls["sku"])

	assert.Nil(t, r.CustomerByName(ctx, "Unknown Pub"))
	assert.Nil(t, r.CustomerByName(ctx, "Unknown Pub"))
	assert.Equal(t, 1, api.calls["search"])

	require.NotNil(t, r.CustomerByID(ctx, "C1"))
	require.NotNil(t, r.CustomerByID(ctx, "C1"))
	assert.Equal(t, 1, api.calls["id"])
}

func TestSearchCustomersReturnsAllLiveMatches(t *testing.T) {
	api := newFakeAPI()
	api.customers = append(api.customers, cin7.Customer{ID: "C3", Name: "Blue Point Brewing"})
	r := NewResolver(api, nil)

	list := r.SearchCustomers(context.Background(), "Blue Point Brewing")
	require.Len(t, list, 2)
	assert.Equal(t, "C2", r.CustomerByName(context.Background(), "Blue Point Brewing").ID)
}

func TestPreloadFailureKeepsLiveFallback(t *testing.T) {
	api := newFakeAPI()
	api.failAll = true
	r := NewResolver(api, nil)

	_, err := r.Preload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preload customers")
	assert.Contains(t, err.Error(), "preload products")
	assert.False(t, r.CustomersLoaded())
	assert.False(t, r.ProductsLoaded())

	require.NotNil(t, r.CustomerByName(context.Background(), "Blue Point Brewing"))
	assert.Equal(t, 1, api.calls["search"])
}

func TestPreloadReportsTruncation(t *testing.T) {
	api := newFakeAPI()
	api.truncated = true
	stats, err := NewResolver(api, nil).Preload(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.CustomersTruncated)
	assert.False(t, stats.ProductsTruncated)
}

func TestTruncatedPreloadFallsBackOnMiss(t *testing.T) {
	api := newFakeAPI()
	api.customers = append(api.customers, cin7.Customer{ID: "C3", Name: "Page Two Co", Email: "p2@test"})
	api.products = append(api.products, cin7.Product{ID: "P2", Name: "Porter", SKU: "gsb-porter"})
	api.preloadLimit = 1
	r := NewResolver(api, nil)
	ctx := context.Background()

	stats, err := r.Preload(ctx)
	require.NoError(t, err)
	assert.True(t, stats.CustomersTruncated)
	assert.True(t, stats.ProductsTruncated)
	assert.True(t, r.CustomersLoaded())

	// Hits come from the partial preload.
	require.NotNil(t, r.CustomerByName(ctx, "Great South Bay Brewing"))
	require.NotNil(t, r.ProductBySKU(ctx, "GSB-BLONDE"))
	assert.Zero(t, api.calls["search"])
	assert.Zero(t, api.calls["sku"])

	// Misses go to the API.
	c := r.CustomerByName(ctx, "Page Two Co")
	require.NotNil(t, c)
	assert.Equal(t, "C3", c.ID)
	require.NotNil(t, r.CustomerByID(ctx, "C3"))
	require.NotNil(t, r.CustomerByEmail(ctx, "p2@test"))
	p := r.ProductBySKU(ctx, "gsb-porter")
	require.NotNil(t, p)
	assert.Equal(t, "P2", p.ID)

	assert.Equal(t, 1, api.calls["search"])
	assert.Equal(t, 1, api.calls["id"])
	assert.Equal(t, 1, api.calls["email"])
	assert.Equal(t, 1, api.calls["sku"])
}

func TestCandidateCustomers(t *testing.T) {
	r := NewResolver(nil, nil)
	r.LoadCustomers([]cin7.Customer{{ID: "C1", Name: "A"}, {ID: "C2"}, {ID: "C3", Name: "B"}})

	got := r.CandidateCustomers()
	require.Len(t, got, 2)
	assert.Equal(t, "C1", got[0].ID)
	assert.Equal(t, "C3", got[1].ID)
}

func TestNilClient(t *testing.T) {
	r := NewResolver(nil, nil)
	_, err := r.Preload(context.Background())
	assert.ErrorIs(t, err, ErrNoClient)
	assert.Nil(t, r.CustomerByName(context.Background(), "Anyone"))
	assert.Nil(t, r.ProductBySKU(context.Background(), "SKU"))
}
