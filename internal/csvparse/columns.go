package csvparse

import "strings"

// synonyms lists known header spellings per field, most specific first.
var synonyms = map[Field][]string{
	FieldCustomerID:        {"customer_id", "customerid", "customer", "customer id", "cust_id"},
	FieldCustomerName:      {"customer_name", "customername", "customer name", "name", "customer"},
	FieldCustomerEmail:     {"customer_email", "customeremail", "customer email", "email"},
	FieldSaleOrderNumber:   {"sale_order_number", "saleordernumber", "sale order number", "order_number", "order number", "order", "order_id", "orderid"},
	FieldInvoiceNumber:     {"invoice_number", "invoicenumber", "invoice number", "invoice #", "invoice#", "invoice", "invoice_id", "invoiceid"},
	FieldCustomerReference: {"customer_reference", "customerreference", "customer reference", "reference", "ref", "po_number", "po number", "po"},
	FieldSaleDate:          {"sale_date", "saledate", "sale date", "date", "order_date", "order date"},
	FieldStatus:            {"status", "order_status", "order status"},
	FieldLocation:          {"location", "warehouse", "location_id", "locationid"},
	FieldCurrency:          {"currency", "currency_code", "currencycode"},
	FieldTaxInclusive:      {"tax_inclusive", "taxinclusive", "tax inclusive", "tax_inc"},
	FieldLines:             {"lines", "items", "products", "line_items"},
	FieldSKU:               {"sku", "product_sku", "productsku", "product sku", "item_sku", "itemsku"},
	FieldProductName:       {"product_name", "productname", "product name", "name", "item_name", "itemname"},
	FieldQuantity:          {"quantity", "qty", "qty_ordered", "qtyordered"},
	FieldPrice:             {"price", "unit_price", "unitprice", "unit price", "price_per_unit"},
	FieldDiscount:          {"discount", "discount_amount", "discountamount", "discount_percent", "discountpercent"},
	FieldTax:               {"tax", "tax_amount", "taxamount", "tax_rate", "taxrate"},
}

var columnNormalizer = strings.NewReplacer("_", " ", "-", " ", "#", "")

// NormalizeColumn lowercases a header, turns '_' and '-' into spaces, drops
// '#' and collapses whitespace.
func NormalizeColumn(s string) string {
	return strings.Join(strings.Fields(columnNormalizer.Replace(strings.ToLower(s))), " ")
}

// DetectColumns proposes candidate columns for each field. Candidates are
// ordered by synonym priority, so the first entry is the suggested mapping;
// the rest are alternatives for manual disambiguation. Fields without a
// candidate are absent.
func DetectColumns(rows []ParsedRow) map[Field][]string {
	out := make(map[Field][]string)
	if len(rows) == 0 {
		return out
	}

	var columns []string
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, k := range r.Keys() {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}

	for _, field := range Fields {
		var matches []string
		taken := make(map[string]bool)
		for _, syn := range synonyms[field] {
			normSyn := NormalizeColumn(syn)
			for _, col := range columns {
				if taken[col] {
					continue
				}
				lc := strings.ToLower(col)
				if lc == syn || NormalizeColumn(col) == normSyn {
					matches = append(matches, col)
					taken[col] = true
				}
			}
		}
		if len(matches) > 0 {
			out[field] = matches
		}
	}
	return out
}

// SuggestMapping takes the first candidate of each detected field.
func SuggestMapping(detected map[Field][]string) Mapping {
	m := make(Mapping, len(detected))
	for f, cols := range detected {
		if len(cols) > 0 {
			m[f] = cols[0]
		}
	}
	return m
}
