package csvparse

import (
	"fmt"
	"sort"
	"strings"
)

// Field is a target field in the Cin7 sale vocabulary.
type Field string

// Target fields a CSV column can be mapped onto.
const (
	FieldCustomerID        Field = "CustomerID"
	FieldCustomerName      Field = "CustomerName"
	FieldCustomerEmail     Field = "CustomerEmail"
	FieldSaleOrderNumber   Field = "SaleOrderNumber"
	FieldInvoiceNumber     Field = "InvoiceNumber"
	FieldCustomerReference Field = "CustomerReference"
	FieldSaleDate          Field = "SaleDate"
	FieldStatus            Field = "Status"
	FieldLocation          Field = "Location"
	FieldCurrency          Field = "Currency"
	FieldTaxInclusive      Field = "TaxInclusive"
	FieldLines             Field = "Lines"
	FieldSKU               Field = "SKU"
	FieldProductName       Field = "ProductName"
	FieldQuantity          Field = "Quantity"
	FieldPrice             Field = "Price"
	FieldDiscount          Field = "Discount"
	FieldTax               Field = "Tax"

	// Extended fields accepted in mappings but never auto-detected.
	FieldBillingAddress  Field = "BillingAddress"
	FieldShippingAddress Field = "ShippingAddress"
	FieldShipBy          Field = "ShipBy"
	FieldNotes           Field = "Notes"
)

// Fields lists the detectable vocabulary in display order.
var Fields = []Field{
	FieldCustomerID, FieldCustomerName, FieldCustomerEmail,
	FieldSaleOrderNumber, FieldInvoiceNumber, FieldCustomerReference,
	FieldSaleDate, FieldStatus, FieldLocation, FieldCurrency, FieldTaxInclusive,
	FieldLines, FieldSKU, FieldProductName, FieldQuantity, FieldPrice,
	FieldDiscount, FieldTax,
}

var knownFields = func() map[Field]bool {
	m := make(map[Field]bool, len(Fields)+4)
	for _, f := range Fields {
		m[f] = true
	}
	for _, f := range []Field{FieldBillingAddress, FieldShippingAddress, FieldShipBy, FieldNotes} {
		m[f] = true
	}
	return m
}()

// ParsedRow is one data row keyed by trimmed header name.
type ParsedRow struct {
	RowNumber int               `json:"row_number"`
	Data      map[string]string `json:"data"`

	// Columns preserves header order when known. Rows decoded from JSON
	// may omit it.
	Columns []string `json:"columns,omitempty"`
}

// Keys returns the row's column names in header order, or sorted when the
// header order is unknown.
func (r ParsedRow) Keys() []string {
	if len(r.Columns) == len(r.Data) && len(r.Columns) > 0 {
		return r.Columns
	}
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the outcome of Parse.
type Result struct {
	Rows    []ParsedRow `json:"rows"`
	Errors  []string    `json:"errors"`
	Skipped []int       `json:"skipped_rows"`
	Headers []string    `json:"headers"`
}

// Mapping maps a target field to the CSV column that supplies it.
type Mapping map[Field]string

// NewMapping converts a loosely typed mapping (from YAML or JSON) and rejects
// unknown field names. Entries with an empty column are dropped.
func NewMapping(m map[string]string) (Mapping, error) {
	out := make(Mapping, len(m))
	var unknown []string
	for k, v := range m {
		f := Field(strings.TrimSpace(k))
		if !knownFields[f] {
			unknown = append(unknown, k)
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			out[f] = v
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown mapping fields: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Has reports whether f is mapped to a column.
func (m Mapping) Has(f Field) bool {
	return m[f] != ""
}

// Value returns the mapped cell for f, trimmed. ok is false when the field is
// unmapped or the column is absent from the row.
func (m Mapping) Value(row ParsedRow, f Field) (string, bool) {
	col := m[f]
	if col == "" {
		return "", false
	}
	v, ok := row.Data[col]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Get is Value without the presence flag.
func (m Mapping) Get(row ParsedRow, f Field) string {
	v, _ := m.Value(row, f)
	return v
}
