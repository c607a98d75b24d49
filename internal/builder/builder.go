// Package builder turns mapped CSV rows into Cin7 Sale and Sale Order
// payloads. Customer and product identifiers always come from a Resolver;
// nothing sent to the API is synthesized from unresolved data.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/fuzzy"
)

// PlaceholderSaleID stands in for the Sale ID in previews built before the
// Sale exists.
const PlaceholderSaleID = "PLACEHOLDER_SALE_ID"

var (
	// ErrMissingCustomer means the row maps neither a customer name, ID nor
	// email.
	ErrMissingCustomer = errors.New("CustomerName or CustomerID is required")

	// ErrCustomerNotFound means the customer could not be resolved to an ID.
	ErrCustomerNotFound = errors.New("customer not found in Cin7")
)

// Resolver supplies customer and product records.
type Resolver interface {
	CustomerByName(ctx context.Context, name string) *cin7.Customer
	CustomerByID(ctx context.Context, id string) *cin7.Customer
	CustomerByEmail(ctx context.Context, email string) *cin7.Customer
	ProductBySKU(ctx context.Context, sku string) *cin7.Product
}

// Builder builds payloads for one job.
type Builder struct {
	resolver   Resolver
	settings   config.Settings
	strategies []LineStrategy
}

// New creates a builder using the default line strategies.
func New(resolver Resolver, settings config.Settings) *Builder {
	return &Builder{
		resolver:   resolver,
		settings:   settings,
		strategies: DefaultStrategies(),
	}
}

// WithStrategies returns a copy of b that builds lines with strategies.
func (b *Builder) WithStrategies(strategies ...LineStrategy) *Builder {
	cp := *b
	cp.strategies = strategies
	return &cp
}

// SaleType maps the sale_type setting onto the API's Type value.
func (b *Builder) SaleType() string {
	if strings.EqualFold(strings.TrimSpace(b.settings.SaleType), "advanced") {
		return cin7.SaleTypeAdvanced
	}
	return cin7.SaleTypeSimple
}

// Status returns the configured Sale Order status, or DRAFT when the setting
// is anything the API does not accept on create.
func (b *Builder) Status() string {
	switch s := strings.ToUpper(strings.TrimSpace(b.settings.DefaultStatus)); s {
	case cin7.StatusDraft, cin7.StatusAuthorised:
		return s
	default:
		return cin7.StatusDraft
	}
}

// BuildSale builds the Sale header for row. The payload is returned even
// when err is ErrCustomerNotFound so callers can show what would be sent.
// Location and TaxInclusive fall back to the settings when the row leaves
// them blank.
func (b *Builder) BuildSale(ctx context.Context, row csvparse.ParsedRow, m csvparse.Mapping) (cin7.SalePayload, error) {
	sale := cin7.SalePayload{Type: b.SaleType()}

	name := m.Get(row, csvparse.FieldCustomerName)
	id := m.Get(row, csvparse.FieldCustomerID)
	email := m.Get(row, csvparse.FieldCustomerEmail)
	billingMapped := m.Get(row, csvparse.FieldBillingAddress) != ""

	var customer *cin7.Customer
	var err error
	switch {
	case name != "":
		sale.Customer = name
		customer = b.resolver.CustomerByName(ctx, name)
		if customer == nil {
			err = fmt.Errorf("%w: %s", ErrCustomerNotFound, name)
		}
	case id != "":
		sale.CustomerID = id
		customer = b.resolver.CustomerByID(ctx, id)
	case email != "":
		customer = b.resolver.CustomerByEmail(ctx, email)
		if customer == nil {
			err = fmt.Errorf("%w: %s", ErrCustomerNotFound, email)
		}
	default:
		err = ErrMissingCustomer
	}

	if customer != nil {
		sale.CustomerID = customer.ID
		if customer.Name != "" {
			sale.Customer = customer.Name
		}
		if !billingMapped {
			sale.BillingAddress = customer.BillingAddress.PrimaryID()
		}
	}

	if v := m.Get(row, csvparse.FieldBillingAddress); v != "" {
		if id, ok := csvparse.ParseUUID(v); ok {
			sale.BillingAddress = id
		} else {
			sale.BillingAddress = v
		}
	}

	if v := m.Get(row, csvparse.FieldShippingAddress); v != "" && customer != nil {
		sale.ShippingAddress = b.shippingAddress(v, customer)
	}

	if v := m.Get(row, csvparse.FieldShipBy); v != "" {
		sale.ShipBy = dateOrRaw(v)
	}
	if v := m.Get(row, csvparse.FieldSaleDate); v != "" {
		sale.SaleDate = dateOrRaw(v)
	}
	sale.CustomerReference = m.Get(row, csvparse.FieldCustomerReference)

	sale.Location = b.settings.DefaultLocation
	if v := m.Get(row, csvparse.FieldLocation); v != "" {
		sale.Location = v
	}
	sale.TaxInclusive = b.settings.TaxInclusive
	if v := m.Get(row, csvparse.FieldTaxInclusive); v != "" {
		sale.TaxInclusive = csvparse.ParseBool(v)
	}

	return sale, err
}

// shippingAddress resolves a ShippingAddress cell: a UUID references an
// existing address, free text is matched against the customer's addresses
// and sent inline when nothing matches.
func (b *Builder) shippingAddress(raw string, customer *cin7.Customer) *cin7.AddressRef {
	if id, ok := csvparse.ParseUUID(raw); ok {
		return cin7.AddressByID(id)
	}

	parsed := fuzzy.ParseAddress(raw)
	if parsed.Line1 == "" {
		return nil
	}

	res := fuzzy.MatchAddress(raw, customer.Addresses(), addressText, fuzzy.AddressThreshold)
	if res.Best != nil && res.Best.ID != "" {
		return cin7.AddressByID(res.Best.ID)
	}
	return &cin7.AddressRef{Inline: inlineAddress(parsed)}
}

// MatchShippingAddress scores raw against the customer's addresses.
func MatchShippingAddress(raw string, customer cin7.Customer) fuzzy.MatchResult[cin7.Address] {
	return fuzzy.MatchAddress(raw, customer.Addresses(), addressText, fuzzy.AddressThreshold)
}

func addressText(a cin7.Address) string {
	return fuzzy.JoinParts(a.Line1, a.Line2, a.City, a.State, a.Postcode, a.Country)
}

func inlineAddress(a fuzzy.Address) *cin7.InlineAddress {
	return &cin7.InlineAddress{
		Company:             a.Company,
		Line1:               a.Line1,
		Line2:               a.Line2,
		City:                a.City,
		State:               a.State,
		Postcode:            a.Postcode,
		Country:             a.Country,
		DisplayAddressLine1: fuzzy.JoinParts(a.Line1, a.Line2),
		DisplayAddressLine2: fuzzy.JoinParts(a.City, a.State, a.Postcode, a.Country),
		ShipToOther:         false,
	}
}

// BuildSaleOrder builds the Sale Order for the rows of one logical order.
// Total is always recomputed from the built lines.
func (b *Builder) BuildSaleOrder(ctx context.Context, rows []csvparse.ParsedRow, m csvparse.Mapping, saleID string) cin7.SaleOrderPayload {
	order := cin7.SaleOrderPayload{
		SaleID: saleID,
		Status: b.Status(),
		Lines:  []cin7.LineItem{},
	}
	for _, row := range rows {
		order.Lines = append(order.Lines, b.BuildLines(ctx, row, m)...)
	}

	order.Total = LinesTotal(order.Lines)
	order.Tax = LinesTax(order.Lines)
	if order.Tax == 0 {
		order.Tax = rowTax(rows, m)
	}
	return order
}

func dateOrRaw(v string) string {
	if d, ok := csvparse.ParseDate(v); ok {
		return d
	}
	return v
}
