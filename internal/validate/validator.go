// Package validate checks mapped CSV rows against Cin7 before anything is
// submitted. Rows are classified valid or invalid with field-level
// diagnostics, and a batch can attach the payloads that would be sent.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/JonMunkholm/cin7sync/internal/builder"
	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/fuzzy"
	"github.com/JonMunkholm/cin7sync/internal/lookup"
)

// Catalog is the lookup surface the validator needs. *lookup.Resolver
// implements it.
type Catalog interface {
	builder.Resolver
	SearchCustomers(ctx context.Context, name string) []cin7.Customer
	CandidateCustomers() []cin7.Customer
	CustomersLoaded() bool
	Preload(ctx context.Context) (lookup.PreloadStats, error)
}

// Candidate is one ranked "did you mean" customer.
type Candidate struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// CustomerMatch records the customer a row resolved to.
type CustomerMatch struct {
	CustomerID   string  `json:"customer_id"`
	CustomerName string  `json:"customer_name"`
	Score        float64 `json:"match_score"`
}

// AddressCandidate is one ranked customer address.
type AddressCandidate struct {
	AddressID string  `json:"address_id"`
	Score     float64 `json:"score"`
}

// AddressMatch records how a free-text shipping address scored against the
// customer's addresses. AddressID is empty when nothing met the threshold.
type AddressMatch struct {
	AddressID  string             `json:"address_id,omitempty"`
	Score      float64            `json:"match_score"`
	Candidates []AddressCandidate `json:"all_matches,omitempty"`
}

// Meta carries match diagnostics alongside the errors.
type Meta struct {
	CustomerMatch         *CustomerMatch `json:"customer_match"`
	Suggestions           []Candidate    `json:"suggestions,omitempty"`
	AddressMatch          *AddressMatch  `json:"address_match"`
	NeedsCustomerCreation bool           `json:"needs_customer_creation"`
	NeedsAddressCreation  bool           `json:"needs_address_creation"`
}

// RowResult is the validation outcome for a row or, from ValidateBatch, for
// a whole order group.
type RowResult struct {
	OrderKey   string   `json:"order_key,omitempty"`
	RowNumber  int      `json:"row_number"`
	RowNumbers []int    `json:"row_numbers,omitempty"`
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors"`
	Warnings   []string `json:"warnings,omitempty"`
	Meta       Meta     `json:"validation_metadata"`

	Data        map[string]string      `json:"data,omitempty"`
	MappedData  map[string]string      `json:"mapped_data,omitempty"`
	FieldStatus map[string]FieldStatus `json:"field_status,omitempty"`
	Preview     *Preview               `json:"preview_payload,omitempty"`
	Metrics     *OrderMetrics          `json:"metrics,omitempty"`
}

const (
	maxSuggestions       = 5
	maxAddressCandidates = 3
)

// Validator validates rows for one job. It shares the job's Catalog and is
// not safe for concurrent use.
type Validator struct {
	catalog  Catalog
	settings config.Settings
	builder  *builder.Builder
	logger   *slog.Logger
}

// New creates a validator. b may be nil, in which case batches carry no
// preview payloads.
func New(catalog Catalog, settings config.Settings, b *builder.Builder) *Validator {
	return &Validator{
		catalog:  catalog,
		settings: settings,
		builder:  b,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger used for preload diagnostics.
func (v *Validator) WithLogger(l *slog.Logger) *Validator {
	if l != nil {
		v.logger = l
	}
	return v
}

// Preload fetches the full customer and product catalogs. A failure is
// logged and returned, but the catalog keeps answering through live calls
// so validation can continue.
func (v *Validator) Preload(ctx context.Context) (lookup.PreloadStats, error) {
	stats, err := v.catalog.Preload(ctx)
	if err != nil {
		v.logger.Warn("catalog preload failed, falling back to live lookups", slog.String("error", err.Error()))
	}
	if stats.CustomersTruncated || stats.ProductsTruncated {
		v.logger.Warn("catalog preload truncated",
			slog.Bool("customers", stats.CustomersTruncated),
			slog.Bool("products", stats.ProductsTruncated),
		)
	}
	return stats, err
}

// ValidateRow checks a single row. Errors make the row invalid; warnings
// do not.
func (v *Validator) ValidateRow(ctx context.Context, row csvparse.ParsedRow, m csvparse.Mapping) RowResult {
	res := RowResult{RowNumber: row.RowNumber, Errors: []string{}}

	v.checkCustomer(ctx, row, m, &res)

	if d := m.Get(row, csvparse.FieldSaleDate); d != "" {
		if _, ok := csvparse.ParseDate(d); !ok {
			res.addError("Invalid date format for SaleDate: %s. Could not parse date", d)
		}
	}

	currency := m.Get(row, csvparse.FieldCurrency)
	if currency == "" {
		currency = v.settings.Currency()
	}
	if len(currency) != 3 {
		res.addError("Invalid currency code: %s. Must be 3 characters (e.g., USD)", currency)
	}

	if loc := m.Get(row, csvparse.FieldLocation); loc != "" && !csvparse.IsUUID(loc) {
		res.addError("Invalid Location UUID format: %s", loc)
	}

	if raw := m.Get(row, csvparse.FieldLines); raw != "" {
		v.checkLines(ctx, raw, &res)
	} else if sku := m.Get(row, csvparse.FieldSKU); sku != "" {
		if v.catalog.ProductBySKU(ctx, sku) == nil {
			res.addError("Product not found: %s", sku)
		}
	}

	if v.settings.RequireCustomerReference && m.Get(row, csvparse.FieldCustomerReference) == "" {
		res.addError("CustomerReference is required")
	}
	if v.settings.RequireInvoiceNumber && m.Get(row, csvparse.FieldInvoiceNumber) == "" {
		res.addError("InvoiceNumber is required")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkCustomer(ctx context.Context, row csvparse.ParsedRow, m csvparse.Mapping, res *RowResult) {
	name := m.Get(row, csvparse.FieldCustomerName)
	id := m.Get(row, csvparse.FieldCustomerID)
	email := m.Get(row, csvparse.FieldCustomerEmail)

	var customer *cin7.Customer
	switch {
	case name != "":
		customer = v.checkCustomerName(ctx, name, res)
	case id != "":
		customer = v.checkCustomerID(ctx, id, res)
	case email != "":
		customer = v.catalog.CustomerByEmail(ctx, email)
		if customer == nil {
			res.addError("Customer with email '%s' not found in Cin7", email)
		}
	default:
		res.addError("CustomerName or CustomerID is required")
		return
	}

	if customer == nil {
		return
	}
	if res.Meta.CustomerMatch == nil {
		res.Meta.CustomerMatch = &CustomerMatch{CustomerID: customer.ID, CustomerName: customer.Name, Score: 1}
	}

	if ship := m.Get(row, csvparse.FieldShippingAddress); ship != "" && !csvparse.IsUUID(ship) {
		v.checkAddress(ship, *customer, res)
	}
}

// checkCustomerName requires an exact catalog match. Close names from the
// preload become suggestions only.
func (v *Validator) checkCustomerName(ctx context.Context, name string, res *RowResult) *cin7.Customer {
	list := v.catalog.SearchCustomers(ctx, name)
	if len(list) > 0 {
		c := list[0]
		if len(list) > 1 {
			res.addWarning("Multiple customers named '%s' found in Cin7; using %s", name, c.ID)
		}
		res.Meta.CustomerMatch = &CustomerMatch{
			CustomerID:   c.ID,
			CustomerName: c.Name,
			Score:        fuzzy.Similarity(name, c.Name),
		}
		return &c
	}

	res.addError("Customer '%s' not found in Cin7", name)
	res.Meta.NeedsCustomerCreation = true

	if !v.catalog.CustomersLoaded() {
		return nil
	}
	ranked := fuzzy.Match(name, v.catalog.CandidateCustomers(), customerName, fuzzy.CustomerThreshold)
	for _, s := range ranked.Ranked {
		if len(res.Meta.Suggestions) == maxSuggestions {
			break
		}
		if s.Candidate.ID == "" {
			continue
		}
		res.Meta.Suggestions = append(res.Meta.Suggestions, Candidate{ID: s.Candidate.ID, Name: s.Candidate.Name, Score: s.Score})
	}
	if ranked.Best != nil {
		res.addWarning("Did you mean '%s'? (%.0f%% match)", ranked.Best.Name, ranked.Score*100)
	}
	return nil
}

func (v *Validator) checkCustomerID(ctx context.Context, id string, res *RowResult) *cin7.Customer {
	if v.catalog.CustomersLoaded() {
		if c := v.catalog.CustomerByID(ctx, id); c != nil {
			return c
		}
	}
	if !csvparse.IsUUID(id) {
		res.addError("Customer validation failed: Invalid UUID format")
		return nil
	}
	c := v.catalog.CustomerByID(ctx, id)
	if c == nil {
		res.addError("Customer validation failed: Customer not found")
	}
	return c
}

func (v *Validator) checkAddress(raw string, customer cin7.Customer, res *RowResult) {
	if len(customer.Addresses()) == 0 {
		res.Meta.NeedsAddressCreation = true
		res.addWarning("Customer has no addresses in Cin7; the shipping address will be sent inline")
		return
	}

	match := builder.MatchShippingAddress(raw, customer)
	am := &AddressMatch{Score: match.Score}
	for _, s := range match.Ranked {
		if len(am.Candidates) == maxAddressCandidates {
			break
		}
		if s.Candidate.ID != "" {
			am.Candidates = append(am.Candidates, AddressCandidate{AddressID: s.Candidate.ID, Score: s.Score})
		}
	}
	if match.Best != nil {
		am.AddressID = match.Best.ID
	} else {
		res.Meta.NeedsAddressCreation = true
		res.addWarning("Shipping address not found for customer; it will be sent inline")
	}
	res.Meta.AddressMatch = am
}

// checkLines validates a Lines JSON column.
func (v *Validator) checkLines(ctx context.Context, raw string, res *RowResult) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		res.addError("Lines must be valid JSON")
		return
	}
	lines, ok := decoded.([]any)
	if !ok {
		res.addError("Lines must be a list/array")
		return
	}

	for i, item := range lines {
		n := i + 1
		line, ok := item.(map[string]any)
		if !ok {
			res.addError("Line %d must be an object", n)
			continue
		}

		sku, hasSKU := builder.LineValue(line, csvparse.FieldSKU)
		if !hasSKU {
			res.addError("Line %d missing SKU (Item Code)", n)
		}

		if q, ok := builder.LineValue(line, csvparse.FieldQuantity); ok {
			if f, ok := number(q); !ok {
				res.addError("Line %d Quantity must be a number", n)
			} else if f <= 0 {
				res.addError("Line %d Quantity must be greater than 0", n)
			}
		}

		if p, ok := builder.LineValue(line, csvparse.FieldPrice); !ok {
			res.addError("Line %d missing Price", n)
		} else if f, ok := number(p); !ok {
			res.addError("Line %d Price must be a number", n)
		} else if f < 0 {
			res.addError("Line %d Price cannot be negative", n)
		}

		if hasSKU {
			if v.catalog.ProductBySKU(ctx, text(sku)) == nil {
				res.addError("Line %d product validation failed: Product not found", n)
			}
		}
	}
}

func customerName(c cin7.Customer) string { return c.Name }

// number converts a decoded JSON value to a float. Strings may carry "$"
// and thousands separators.
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		return csvparse.CleanMoney(x)
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func text(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func (r *RowResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *RowResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
