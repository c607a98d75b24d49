package builder

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/cin7sync/internal/csvparse"
)

// MappedValues returns each mapped field's cell for row. Fields whose column
// is absent from the row are omitted.
func MappedValues(row csvparse.ParsedRow, m csvparse.Mapping) map[string]string {
	out := make(map[string]string, len(m))
	for f := range m {
		if v, ok := m.Value(row, f); ok {
			out[string(f)] = v
		}
	}
	return out
}

func placeholder(what string) string {
	return fmt.Sprintf("<MISSING: %s>", what)
}

// WhatIsNeeded describes the payloads for an order with a placeholder in
// place of every required value that could not be resolved. The "missing"
// entry lists those values for manual remediation.
func (b *Builder) WhatIsNeeded(ctx context.Context, rows []csvparse.ParsedRow, m csvparse.Mapping) map[string]any {
	var missing []string
	need := func(what string) string {
		missing = append(missing, what)
		return placeholder(what)
	}
	if len(rows) == 0 {
		return map[string]any{"missing": []string{"rows"}}
	}

	sale, _ := b.BuildSale(ctx, rows[0], m)
	saleOut := map[string]any{"Type": sale.Type}
	if sale.CustomerID != "" {
		saleOut["CustomerID"] = sale.CustomerID
	} else if sale.Customer != "" {
		saleOut["CustomerID"] = need("CustomerID for " + sale.Customer)
	} else {
		saleOut["CustomerID"] = need("CustomerID")
	}
	if sale.Customer != "" {
		saleOut["Customer"] = sale.Customer
	}
	if sale.BillingAddress != "" {
		saleOut["BillingAddress"] = sale.BillingAddress
	}
	if sale.ShippingAddress != nil {
		saleOut["ShippingAddress"] = sale.ShippingAddress
	}
	if sale.SaleDate != "" {
		saleOut["SaleDate"] = sale.SaleDate
	}
	if sale.ShipBy != "" {
		saleOut["ShipBy"] = sale.ShipBy
	}
	if sale.CustomerReference != "" {
		saleOut["CustomerReference"] = sale.CustomerReference
	}

	var lines []map[string]any
	for _, row := range rows {
		for _, in := range b.firstInputs(row, m) {
			line := map[string]any{"SKU": in.SKU}
			if in.SKU == "" {
				line["SKU"] = need(fmt.Sprintf("SKU (row %d)", row.RowNumber))
			}
			if p := b.resolver.ProductBySKU(ctx, in.SKU); p != nil && p.ID != "" {
				line["ProductID"] = p.ID
				line["Name"] = p.Name
			} else {
				line["ProductID"] = need("ProductID for SKU " + in.SKU)
				if in.Name != "" {
					line["Name"] = in.Name
				}
			}
			if in.Quantity != nil {
				line["Quantity"] = *in.Quantity
			} else {
				line["Quantity"] = 1.0
			}
			if in.Price != nil {
				line["Price"] = *in.Price
			} else {
				line["Price"] = need(fmt.Sprintf("Price (row %d)", row.RowNumber))
			}
			line["TaxRule"] = b.settings.TaxRule
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		need("Lines")
	}

	return map[string]any{
		"sale": saleOut,
		"sale_order": map[string]any{
			"SaleID": placeholder("SaleID"),
			"Status": b.Status(),
			"Lines":  lines,
		},
		"missing": missing,
	}
}

// firstInputs returns the first strategy's non-empty candidate lines.
func (b *Builder) firstInputs(row csvparse.ParsedRow, m csvparse.Mapping) []LineInput {
	for _, strategy := range b.strategies {
		if in := strategy(row, m); len(in) > 0 {
			return in
		}
	}
	return nil
}
