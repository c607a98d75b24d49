package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/config"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
	"github.com/JonMunkholm/cin7sync/internal/lookup"
)

const (
	gsbID      = "6a1f3c2e-9b7d-4e21-8f0a-3c5d7e9b1a24"
	gsbShipID  = "0c9e8d7f-6a5b-4c3d-9e2f-1a0b9c8d7e6f"
	gsbBillID  = "7d6c5b4a-3e2f-4a1b-8c9d-0e1f2a3b4c5d"
	overrideID = "11111111-2222-4333-8444-555555555555"
)

func testResolver() *lookup.Resolver {
	r := lookup.NewResolver(nil, nil)
	r.LoadCustomers([]cin7.Customer{
		{
			ID:   gsbID,
			Name: "Great South Bay Brewing",
			ShippingAddress: cin7.AddressList{
				{ID: gsbShipID, Line1: "25 Drexel Dr", City: "Bay Shore", State: "NY", Postcode: "11706"},
			},
			BillingAddress: cin7.AddressList{{ID: gsbBillID, Line1: "PO Box 12"}},
		},
	})
	r.LoadProducts([]cin7.Product{
		{ID: "P1", Name: "Blonde Ale 1/2 BBL", SKU: "GSB-BLONDE"},
		{ID: "P2", Name: "IPA 1/6 BBL", SKU: "GSB-IPA"},
	})
	return r
}

func testSettings() config.Settings {
	return config.Settings{DefaultStatus: "DRAFT", SaleType: "simple", TaxRule: "Tax Exempt"}
}

func row(n int, data map[string]string) csvparse.ParsedRow {
	return csvparse.ParsedRow{RowNumber: n, Data: data}
}

func TestSaleType(t *testing.T) {
	tests := []struct {
		setting string
		want    string
	}{
		{"advanced", cin7.SaleTypeAdvanced},
		{" Advanced ", cin7.SaleTypeAdvanced},
		{"simple", cin7.SaleTypeSimple},
		{"", cin7.SaleTypeSimple},
		{"complex", cin7.SaleTypeSimple},
	}
	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			b := New(testResolver(), config.Settings{SaleType: tt.setting})
			assert.Equal(t, tt.want, b.SaleType())
		})
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		setting string
		want    string
	}{
		{"DRAFT", cin7.StatusDraft},
		{"authorised", cin7.StatusAuthorised},
		{"ORDERED", cin7.StatusDraft},
		{"", cin7.StatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.setting, func(t *testing.T) {
			b := New(testResolver(), config.Settings{DefaultStatus: tt.setting})
			assert.Equal(t, tt.want, b.Status())
		})
	}
}

func TestBuildSaleByName(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{
		csvparse.FieldCustomerName:      "Customer",
		csvparse.FieldSaleDate:          "Order Date",
		csvparse.FieldShipBy:            "Due Date",
		csvparse.FieldCustomerReference: "PO #",
	}
	r := row(2, map[string]string{
		"Customer":   "GREAT SOUTH BAY BREWING",
		"Order Date": "12/17/25",
		"Due Date":   "someday",
		"PO #":       "PO-1001",
	})

	sale, err := b.BuildSale(context.Background(), r, m)

	require.NoError(t, err)
	assert.Equal(t, cin7.SaleTypeSimple, sale.Type)
	assert.Equal(t, gsbID, sale.CustomerID)
	assert.Equal(t, "Great South Bay Brewing", sale.Customer)
	assert.Equal(t, gsbBillID, sale.BillingAddress)
	assert.Nil(t, sale.ShippingAddress)
	assert.Equal(t, "2025-12-17", sale.SaleDate)
	assert.Equal(t, "someday", sale.ShipBy)
	assert.Equal(t, "PO-1001", sale.CustomerReference)
}

func TestBuildSaleLocationAndTax(t *testing.T) {
	const defaultLoc = "b1c2d3e4-f5a6-4b7c-8d9e-0f1a2b3c4d5e"
	m := csvparse.Mapping{
		csvparse.FieldCustomerName: "Customer",
		csvparse.FieldLocation:     "Warehouse",
		csvparse.FieldTaxInclusive: "Tax Inc",
	}

	tests := []struct {
		name        string
		settings    config.Settings
		data        map[string]string
		wantLoc     string
		wantTaxIncl bool
	}{
		{
			name:     "settings fill blanks",
			settings: config.Settings{DefaultLocation: defaultLoc, TaxInclusive: true},
			data:     map[string]string{"Customer": "Great South Bay Brewing"},
			wantLoc:  defaultLoc, wantTaxIncl: true,
		},
		{
			name:     "row overrides settings",
			settings: config.Settings{DefaultLocation: defaultLoc, TaxInclusive: true},
			data:     map[string]string{"Customer": "Great South Bay Brewing", "Warehouse": overrideID, "Tax Inc": "no"},
			wantLoc:  overrideID, wantTaxIncl: false,
		},
		{
			name:     "row only",
			settings: config.Settings{},
			data:     map[string]string{"Customer": "Great South Bay Brewing", "Warehouse": overrideID, "Tax Inc": "Yes"},
			wantLoc:  overrideID, wantTaxIncl: true,
		},
		{
			name:     "nothing set",
			settings: config.Settings{},
			data:     map[string]string{"Customer": "Great South Bay Brewing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sale, err := New(testResolver(), tt.settings).BuildSale(context.Background(), row(2, tt.data), m)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLoc, sale.Location)
			assert.Equal(t, tt.wantTaxIncl, sale.TaxInclusive)
		})
	}
}

func TestBuildSaleByID(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldCustomerID: "Cust ID", csvparse.FieldBillingAddress: "Bill To"}
	r := row(2, map[string]string{"Cust ID": gsbID, "Bill To": overrideID})

	sale, err := b.BuildSale(context.Background(), r, m)

	require.NoError(t, err)
	assert.Equal(t, gsbID, sale.CustomerID)
	assert.Equal(t, "Great South Bay Brewing", sale.Customer)
	assert.Equal(t, overrideID, sale.BillingAddress, "mapped billing address overrides the record")
}

func TestBuildSaleBillingPassthrough(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldCustomerName: "Customer", csvparse.FieldBillingAddress: "Bill To"}
	r := row(2, map[string]string{"Customer": "Great South Bay Brewing", "Bill To": "HQ"})

	sale, err := b.BuildSale(context.Background(), r, m)

	require.NoError(t, err)
	assert.Equal(t, "HQ", sale.BillingAddress)
}

func TestBuildSaleCustomerErrors(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldCustomerName: "Customer"}

	_, err := b.BuildSale(context.Background(), row(2, map[string]string{"Customer": ""}), m)
	assert.ErrorIs(t, err, ErrMissingCustomer)

	sale, err := b.BuildSale(context.Background(), row(3, map[string]string{"Customer": "Unknown Pub"}), m)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
	assert.Equal(t, "Unknown Pub", sale.Customer)
	assert.Empty(t, sale.CustomerID)
}

func TestBuildSaleShippingAddress(t *testing.T) {
	m := csvparse.Mapping{csvparse.FieldCustomerName: "Customer", csvparse.FieldShippingAddress: "Ship To"}

	tests := []struct {
		name       string
		shipTo     string
		wantID     string
		wantInline *cin7.InlineAddress
	}{
		{
			name:   "uuid used directly",
			shipTo: overrideID,
			wantID: overrideID,
		},
		{
			name:   "fuzzy match existing address",
			shipTo: "25 Drexel Drive\nBay Shore, NY 11706",
			wantID: gsbShipID,
		},
		{
			name:   "unmatched address sent inline",
			shipTo: "Great South Bay Brewing Company\n25 Drexel Dr\n\nBAY SHORE NY 11706",
			wantInline: &cin7.InlineAddress{
				Company:             "Great South Bay Brewing Company",
				Line1:               "25 Drexel Dr",
				City:                "BAY SHORE",
				State:               "NY",
				Postcode:            "11706",
				DisplayAddressLine1: "25 Drexel Dr",
				DisplayAddressLine2: "BAY SHORE NY 11706",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(testResolver(), testSettings())
			r := row(2, map[string]string{"Customer": "Great South Bay Brewing", "Ship To": tt.shipTo})

			sale, err := b.BuildSale(context.Background(), r, m)

			require.NoError(t, err)
			require.NotNil(t, sale.ShippingAddress)
			if tt.wantInline != nil {
				assert.Equal(t, tt.wantInline, sale.ShippingAddress.Inline)
				return
			}
			assert.Nil(t, sale.ShippingAddress.Inline)
			assert.Equal(t, tt.wantID, sale.ShippingAddress.ID)
		})
	}
}

func TestBuildSaleShippingNeedsCustomer(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldCustomerName: "Customer", csvparse.FieldShippingAddress: "Ship To"}
	r := row(2, map[string]string{"Customer": "Unknown Pub", "Ship To": overrideID})

	sale, _ := b.BuildSale(context.Background(), r, m)
	assert.Nil(t, sale.ShippingAddress)
}

func TestBuildSaleOrderRecomputesTotal(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldLines: "Lines"}
	r := row(2, map[string]string{
		"Lines": `[{"SKU":"GSB-BLONDE","Quantity":2,"Price":"$10.50","Discount":1},{"SKU":"NOPE-404","Price":5}]`,
		"Total": "999.00",
	})

	order := b.BuildSaleOrder(context.Background(), []csvparse.ParsedRow{r}, m, "S1")

	assert.Equal(t, "S1", order.SaleID)
	assert.Equal(t, cin7.StatusDraft, order.Status)
	require.Len(t, order.Lines, 1, "unresolvable SKU is dropped")
	line := order.Lines[0]
	assert.Equal(t, "P1", line.ProductID)
	assert.Equal(t, "Blonde Ale 1/2 BBL", line.Name)
	assert.Equal(t, 2.0, line.Quantity)
	assert.Equal(t, 10.5, line.Price)
	assert.Equal(t, "Tax Exempt", line.TaxRule)
	assert.Equal(t, 20.0, order.Total)
}

func TestBuildSaleOrderDropsUnknownSKU(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{csvparse.FieldSKU: "Item Code", csvparse.FieldPrice: "Price", csvparse.FieldQuantity: "Qty"}
	r := row(2, map[string]string{"Item Code": "NOPE-404", "Price": "5", "Qty": "1"})

	order := b.BuildSaleOrder(context.Background(), []csvparse.ParsedRow{r}, m, PlaceholderSaleID)

	assert.Empty(t, order.Lines)
	assert.NotNil(t, order.Lines)
	assert.Zero(t, order.Total)
}

func TestSuffixColumns(t *testing.T) {
	r := row(2, map[string]string{
		"SKU_2":      "GSB-IPA",
		"Price_2":    "30",
		"SKU_1":      "GSB-BLONDE",
		"Price_1":    "20",
		"Quantity_1": "3",
		"Address_x":  "ignored",
	})

	inputs := SuffixColumns(r, nil)
	require.Len(t, inputs, 2)
	assert.Equal(t, "GSB-BLONDE", inputs[0].SKU)
	assert.Equal(t, "GSB-IPA", inputs[1].SKU)

	b := New(testResolver(), testSettings())
	lines := b.BuildLines(context.Background(), r, csvparse.Mapping{})
	require.Len(t, lines, 2)
	assert.Equal(t, 3.0, lines[0].Quantity)
	assert.Equal(t, 1.0, lines[1].Quantity, "quantity defaults to 1")
	assert.Equal(t, 90.0, LinesTotal(lines))
}

func TestFlatColumns(t *testing.T) {
	m := csvparse.Mapping{
		csvparse.FieldSKU:      "Item Code",
		csvparse.FieldPrice:    "Price",
		csvparse.FieldQuantity: "Cases",
	}

	tests := []struct {
		name      string
		data      map[string]string
		wantQty   *float64
		wantPrice float64
	}{
		{
			name:      "explicit values",
			data:      map[string]string{"Item Code": "GSB-BLONDE", "Price": "$1,200.00", "Cases": "2"},
			wantQty:   ptr(2),
			wantPrice: 1200,
		},
		{
			name:      "quantity from extended price",
			data:      map[string]string{"Item Code": "GSB-BLONDE", "Price": "12.50", "Extended Price": "$50.00"},
			wantQty:   ptr(4),
			wantPrice: 12.5,
		},
		{
			name:      "price from total",
			data:      map[string]string{"Item Code": "GSB-BLONDE", "Price": "", "Cases": "3", "Line Total": "30"},
			wantQty:   ptr(3),
			wantPrice: 10,
		},
		{
			name:      "no price defaults to zero",
			data:      map[string]string{"Item Code": "GSB-BLONDE"},
			wantQty:   nil,
			wantPrice: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := FlatColumns(row(2, tt.data), m)
			require.Len(t, inputs, 1)
			in := inputs[0]
			if tt.wantQty == nil {
				assert.Nil(t, in.Quantity)
			} else {
				require.NotNil(t, in.Quantity)
				assert.InDelta(t, *tt.wantQty, *in.Quantity, 1e-9)
			}
			require.NotNil(t, in.Price)
			assert.InDelta(t, tt.wantPrice, *in.Price, 1e-9)
		})
	}

	assert.Nil(t, FlatColumns(row(2, map[string]string{"Price": "1"}), m), "no SKU, no line")
}

func TestJSONLinesMalformed(t *testing.T) {
	m := csvparse.Mapping{csvparse.FieldLines: "Lines"}
	assert.Nil(t, JSONLines(row(2, map[string]string{"Lines": "not json"}), m))
	assert.Nil(t, JSONLines(row(2, map[string]string{"Lines": ""}), m))

	in := JSONLines(row(2, map[string]string{"Lines": `[{"sku":"A","qty":"x","Price":"abc"}]`}), m)
	require.Len(t, in, 1)
	assert.Equal(t, "A", in[0].SKU)
	require.NotNil(t, in[0].Quantity)
	assert.Equal(t, 1.0, *in[0].Quantity, "unparseable quantity falls back to 1")
	assert.Nil(t, in[0].Price, "unparseable price drops the line")
}

func TestStrategyOrder(t *testing.T) {
	m := csvparse.Mapping{
		csvparse.FieldLines: "Lines",
		csvparse.FieldSKU:   "Item Code",
		csvparse.FieldPrice: "Price",
	}
	r := row(2, map[string]string{
		"Lines":     `[{"SKU":"GSB-IPA","Price":30}]`,
		"Item Code": "GSB-BLONDE",
		"Price":     "20",
	})
	b := New(testResolver(), testSettings())

	lines := b.BuildLines(context.Background(), r, m)
	require.Len(t, lines, 1)
	assert.Equal(t, "P2", lines[0].ProductID, "JSON lines win over flat columns")

	flatOnly := b.WithStrategies(FlatColumns)
	lines = flatOnly.BuildLines(context.Background(), r, m)
	require.Len(t, lines, 1)
	assert.Equal(t, "P1", lines[0].ProductID)

	r.Data["Lines"] = `[{"SKU":"NOPE-404","Price":30}]`
	lines = b.BuildLines(context.Background(), r, m)
	require.Len(t, lines, 1)
	assert.Equal(t, "P1", lines[0].ProductID, "falls through when JSON lines resolve to nothing")
}

func TestBuildSaleOrderFromGroupedRows(t *testing.T) {
	b := New(testResolver(), config.Settings{DefaultStatus: "AUTHORISED"})
	m := csvparse.Mapping{
		csvparse.FieldSKU:      "Item Code",
		csvparse.FieldPrice:    "Price",
		csvparse.FieldQuantity: "Qty",
		csvparse.FieldTax:      "Tax",
	}
	rows := []csvparse.ParsedRow{
		row(2, map[string]string{"Item Code": "GSB-BLONDE", "Price": "100", "Qty": "2", "Tax": "$1.50"}),
		row(3, map[string]string{"Item Code": "GSB-IPA", "Price": "50", "Qty": "1", "Tax": "1.50"}),
	}

	order := b.BuildSaleOrder(context.Background(), rows, m, "S1")

	assert.Equal(t, cin7.StatusAuthorised, order.Status)
	require.Len(t, order.Lines, 2)
	assert.Equal(t, 250.0, order.Total)
	assert.Equal(t, 3.0, order.Tax, "row tax is used when line tax sums to zero")
}

func TestLinesTotal(t *testing.T) {
	lines := []cin7.LineItem{
		{Quantity: 3, Price: 0.1},
		{Quantity: 1, Price: 19.99, Discount: ptr(0.99)},
	}
	assert.Equal(t, 19.3, LinesTotal(lines))
	assert.Zero(t, LinesTotal(nil))
}

func TestMappedValues(t *testing.T) {
	m := csvparse.Mapping{csvparse.FieldCustomerName: "Customer", csvparse.FieldSKU: "Missing Column"}
	got := MappedValues(row(2, map[string]string{"Customer": " Acme "}), m)
	assert.Equal(t, map[string]string{"CustomerName": "Acme"}, got)
}

func TestWhatIsNeeded(t *testing.T) {
	b := New(testResolver(), testSettings())
	m := csvparse.Mapping{
		csvparse.FieldCustomerName: "Customer",
		csvparse.FieldSKU:          "Item Code",
		csvparse.FieldPrice:        "Price",
	}
	rows := []csvparse.ParsedRow{
		row(2, map[string]string{"Customer": "Unknown Pub", "Item Code": "NOPE-404", "Price": "5"}),
	}

	got := b.WhatIsNeeded(context.Background(), rows, m)

	missing, ok := got["missing"].([]string)
	require.True(t, ok)
	assert.Contains(t, missing, "CustomerID for Unknown Pub")
	assert.Contains(t, missing, "ProductID for SKU NOPE-404")

	sale := got["sale"].(map[string]any)
	assert.Equal(t, "<MISSING: CustomerID for Unknown Pub>", sale["CustomerID"])
}

func ptr(f float64) *float64 { return &f }
