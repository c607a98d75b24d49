// Package lookup resolves customers and products for one job. A Resolver
// prefers a preloaded catalog over live API calls and remembers every
// answer, including misses, for the lifetime of the job.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
)

// ErrNoClient is returned by Preload when the resolver has no API client.
var ErrNoClient = errors.New("no Cin7 client configured")

// API is the subset of the Cin7 client the resolver needs.
type API interface {
	SearchCustomersByName(ctx context.Context, name string) ([]cin7.Customer, cin7.Response)
	GetCustomerByID(ctx context.Context, id string) (*cin7.Customer, cin7.Response)
	GetCustomerByEmail(ctx context.Context, email string) (*cin7.Customer, cin7.Response)
	GetProductBySKU(ctx context.Context, sku string) (*cin7.Product, cin7.Response)
	GetAllCustomers(ctx context.Context) (cin7.Catalog[cin7.Customer], cin7.Response)
	GetAllProducts(ctx context.Context) (cin7.Catalog[cin7.Product], cin7.Response)
}

// PreloadStats reports what Preload fetched.
type PreloadStats struct {
	Customers          int  `json:"customers"`
	Products           int  `json:"products"`
	CustomersTruncated bool `json:"customers_truncated"`
	ProductsTruncated  bool `json:"products_truncated"`
}

// Resolver caches lookups for a single job. It is not safe for concurrent
// use; each job constructs its own.
type Resolver struct {
	api    API
	logger *slog.Logger

	customers       []cin7.Customer
	customersByName map[string]*cin7.Customer
	customersByID   map[string]*cin7.Customer
	customersByMail map[string]*cin7.Customer
	productsBySKU   map[string]*cin7.Product

	customersLoaded bool
	productsLoaded  bool

	// A truncated preload only answers hits; misses go to the API.
	customersPartial bool
	productsPartial  bool

	// A present key holding nil records a miss.
	customerCache map[string]*cin7.Customer
	searchCache   map[string][]cin7.Customer
	productCache  map[string]*cin7.Product
}

// NewResolver creates a resolver. api may be nil, in which case only
// preloaded data can answer lookups.
func NewResolver(api API, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		api:             api,
		logger:          logger,
		customersByName: make(map[string]*cin7.Customer),
		customersByID:   make(map[string]*cin7.Customer),
		customersByMail: make(map[string]*cin7.Customer),
		productsBySKU:   make(map[string]*cin7.Product),
		customerCache:   make(map[string]*cin7.Customer),
		searchCache:     make(map[string][]cin7.Customer),
		productCache:    make(map[string]*cin7.Product),
	}
}

// CustomersLoaded reports whether a customer catalog was preloaded. Once
// set, customer lookups call the API only when the catalog was truncated.
func (r *Resolver) CustomersLoaded() bool { return r.customersLoaded }

// ProductsLoaded reports whether a product catalog was preloaded.
func (r *Resolver) ProductsLoaded() bool { return r.productsLoaded }

// Preload fetches both full catalogs. A catalog that fails to load leaves
// its loaded flag unset so lookups fall back to live calls; the failures are
// joined into the returned error.
func (r *Resolver) Preload(ctx context.Context) (PreloadStats, error) {
	var stats PreloadStats
	if r.api == nil {
		return stats, ErrNoClient
	}

	var errs []error

	customers, resp := r.api.GetAllCustomers(ctx)
	if resp.OK {
		r.LoadCustomers(customers.Items)
		r.customersPartial = customers.Truncated
		stats.Customers = len(customers.Items)
		stats.CustomersTruncated = customers.Truncated
	} else {
		errs = append(errs, fmt.Errorf("preload customers: %s", resp.Message))
	}

	products, resp := r.api.GetAllProducts(ctx)
	if resp.OK {
		r.LoadProducts(products.Items)
		r.productsPartial = products.Truncated
		stats.Products = len(products.Items)
		stats.ProductsTruncated = products.Truncated
	} else {
		errs = append(errs, fmt.Errorf("preload products: %s", resp.Message))
	}

	r.logger.Info("catalog preloaded",
		slog.Int("customers", stats.Customers),
		slog.Int("products", stats.Products),
		slog.Bool("customers_truncated", stats.CustomersTruncated),
		slog.Bool("products_truncated", stats.ProductsTruncated),
	)
	return stats, errors.Join(errs...)
}

// LoadCustomers indexes customers by ID, email and name variants and marks
// the customer catalog as loaded.
func (r *Resolver) LoadCustomers(list []cin7.Customer) {
	r.customers = make([]cin7.Customer, len(list))
	copy(r.customers, list)
	for i := range r.customers {
		c := &r.customers[i]
		if c.ID != "" {
			r.customersByID[c.ID] = c
		}
		if email := strings.ToLower(strings.TrimSpace(c.Email)); email != "" {
			r.customersByMail[email] = c
		}
		for _, k := range variants(c.Name) {
			r.customersByName[k] = c
		}
	}
	r.customersLoaded = true
}

// LoadProducts indexes products by SKU variants and marks the product
// catalog as loaded.
func (r *Resolver) LoadProducts(list []cin7.Product) {
	for i := range list {
		p := list[i]
		for _, k := range variants(p.SKU) {
			r.productsBySKU[k] = &p
		}
	}
	r.productsLoaded = true
}

// CandidateCustomers returns each preloaded customer once, in catalog order.
func (r *Resolver) CandidateCustomers() []cin7.Customer {
	out := make([]cin7.Customer, 0, len(r.customers))
	for _, c := range r.customers {
		if c.Name != "" {
			out = append(out, c)
		}
	}
	return out
}

// CustomerByName resolves an exact (original, upper or lower case) name
// against the preload. Without a preload, or on a miss against a truncated
// one, it searches the API and takes the first result.
func (r *Resolver) CustomerByName(ctx context.Context, name string) *cin7.Customer {
	list := r.SearchCustomers(ctx, name)
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

// SearchCustomers returns every customer matching name. A preload yields at
// most one exact match; a live search may return several.
func (r *Resolver) SearchCustomers(ctx context.Context, name string) []cin7.Customer {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if list, ok := r.searchCache[name]; ok {
		return list
	}

	var list []cin7.Customer
	if r.customersLoaded {
		if c := lookupVariants(r.customersByName, name); c != nil {
			list = []cin7.Customer{*c}
		}
	}
	if list == nil && r.liveCustomers() {
		found, resp := r.api.SearchCustomersByName(ctx, name)
		if !resp.OK {
			r.logger.Warn("customer search failed", slog.String("name", name), slog.String("error", resp.Message))
		}
		list = found
	}

	r.searchCache[name] = list
	return list
}

// CustomerByID resolves a customer record by ID.
func (r *Resolver) CustomerByID(ctx context.Context, id string) *cin7.Customer {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	key := "id:" + id
	if c, ok := r.customerCache[key]; ok {
		return c
	}

	var found *cin7.Customer
	if r.customersLoaded {
		found = r.customersByID[id]
	}
	if found == nil && r.liveCustomers() {
		c, resp := r.api.GetCustomerByID(ctx, id)
		if !resp.OK {
			r.logger.Warn("customer lookup failed", slog.String("customer_id", id), slog.String("error", resp.Message))
		}
		found = c
	}

	r.customerCache[key] = found
	return found
}

// CustomerByEmail resolves a customer by email address, case-insensitively
// against the preload.
func (r *Resolver) CustomerByEmail(ctx context.Context, email string) *cin7.Customer {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	key := "email:" + strings.ToLower(email)
	if c, ok := r.customerCache[key]; ok {
		return c
	}

	var found *cin7.Customer
	if r.customersLoaded {
		found = r.customersByMail[strings.ToLower(email)]
	}
	if found == nil && r.liveCustomers() {
		c, resp := r.api.GetCustomerByEmail(ctx, email)
		if !resp.OK {
			r.logger.Warn("customer email lookup failed", slog.String("error", resp.Message))
		}
		found = c
	}

	r.customerCache[key] = found
	return found
}

// ProductBySKU resolves a product by SKU.
func (r *Resolver) ProductBySKU(ctx context.Context, sku string) *cin7.Product {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return nil
	}
	if p, ok := r.productCache[sku]; ok {
		return p
	}

	var found *cin7.Product
	if r.productsLoaded {
		found = lookupVariants(r.productsBySKU, sku)
	}
	if found == nil && r.liveProducts() {
		p, resp := r.api.GetProductBySKU(ctx, sku)
		if !resp.OK {
			r.logger.Warn("product lookup failed", slog.String("sku", sku), slog.String("error", resp.Message))
		}
		found = p
	}

	r.productCache[sku] = found
	return found
}

func (r *Resolver) liveCustomers() bool {
	return r.api != nil && (!r.customersLoaded || r.customersPartial)
}

func (r *Resolver) liveProducts() bool {
	return r.api != nil && (!r.productsLoaded || r.productsPartial)
}

// variants returns the trimmed key in original, upper and lower case.
func variants(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return []string{s, strings.ToUpper(s), strings.ToLower(s)}
}

func lookupVariants[T any](m map[string]*T, key string) *T {
	for _, k := range variants(key) {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}
