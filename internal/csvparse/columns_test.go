package csvparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeColumn(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Invoice #", "invoice"},
		{"customer_name", "customer name"},
		{"Order-Date", "order date"},
		{"  Unit   Price ", "unit price"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeColumn(tt.in), tt.in)
	}
}

func TestDetectColumns(t *testing.T) {
	rows := []ParsedRow{{
		RowNumber: 2,
		Columns:   []string{"Customer", "SKU", "Qty", "Unit Price", "Invoice #", "PO Number", "Order Date"},
		Data: map[string]string{
			"Customer": "Acme", "SKU": "A1", "Qty": "2", "Unit Price": "3",
			"Invoice #": "INV1", "PO Number": "PO1", "Order Date": "2024-01-02",
		},
	}}

	got := DetectColumns(rows)

	assert.Equal(t, []string{"Customer"}, got[FieldCustomerID])
	assert.Equal(t, []string{"Customer"}, got[FieldCustomerName])
	assert.Equal(t, []string{"SKU"}, got[FieldSKU])
	assert.Equal(t, []string{"Qty"}, got[FieldQuantity])
	assert.Equal(t, []string{"Unit Price"}, got[FieldPrice])
	assert.Equal(t, []string{"Invoice #"}, got[FieldInvoiceNumber])
	assert.Equal(t, []string{"PO Number"}, got[FieldCustomerReference])
	assert.Equal(t, []string{"Order Date"}, got[FieldSaleDate])
	assert.NotContains(t, got, FieldSaleOrderNumber)
	assert.NotContains(t, got, FieldStatus)
}

func TestDetectColumns_AllCandidatesReturned(t *testing.T) {
	rows := []ParsedRow{{
		RowNumber: 2,
		Columns:   []string{"Name", "Customer Name"},
		Data:      map[string]string{"Name": "x", "Customer Name": "y"},
	}}

	got := DetectColumns(rows)
	assert.Equal(t, []string{"Customer Name", "Name"}, got[FieldCustomerName])

	m := SuggestMapping(got)
	assert.Equal(t, "Customer Name", m[FieldCustomerName])
}

func TestDetectColumns_Empty(t *testing.T) {
	assert.Empty(t, DetectColumns(nil))
}
