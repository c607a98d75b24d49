package builder

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
)

// LineInput is a candidate line extracted from a row, before product
// resolution. A nil Price drops the line; a nil Quantity defaults to 1.
type LineInput struct {
	SKU      string   `json:"sku"`
	Name     string   `json:"name,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
	Price    *float64 `json:"price,omitempty"`
	Tax      float64  `json:"tax"`
	Discount *float64 `json:"discount,omitempty"`
}

// LineStrategy extracts candidate lines from a row.
type LineStrategy func(row csvparse.ParsedRow, m csvparse.Mapping) []LineInput

// DefaultStrategies returns the line strategies in priority order: a JSON
// Lines column, suffix-indexed columns, then the flat column mapping.
func DefaultStrategies() []LineStrategy {
	return []LineStrategy{JSONLines, SuffixColumns, FlatColumns}
}

// Alternate keys accepted in JSON lines and suffix columns.
var (
	skuKeys      = []string{"SKU", "sku", "product_sku"}
	nameKeys     = []string{"ProductName", "product_name", "name"}
	quantityKeys = []string{"Quantity", "quantity", "qty"}
	priceKeys    = []string{"Price", "price", "unit_price"}
	taxKeys      = []string{"Tax", "tax"}
	discountKeys = []string{"Discount", "discount"}
)

var lineKeys = map[csvparse.Field][]string{
	csvparse.FieldSKU:         skuKeys,
	csvparse.FieldProductName: nameKeys,
	csvparse.FieldQuantity:    quantityKeys,
	csvparse.FieldPrice:       priceKeys,
	csvparse.FieldTax:         taxKeys,
	csvparse.FieldDiscount:    discountKeys,
}

// LineValue returns the raw value of field in a JSON line object under the
// first of its accepted keys that is present.
func LineValue(obj map[string]any, field csvparse.Field) (any, bool) {
	for _, k := range lineKeys[field] {
		if v, ok := obj[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// JSONLines reads a Lines column holding a JSON array of line objects.
// Malformed JSON yields no lines.
func JSONLines(row csvparse.ParsedRow, m csvparse.Mapping) []LineInput {
	raw := m.Get(row, csvparse.FieldLines)
	if raw == "" {
		return nil
	}
	var objs []map[string]any
	if err := json.Unmarshal([]byte(raw), &objs); err != nil {
		return nil
	}
	out := make([]LineInput, 0, len(objs))
	for _, obj := range objs {
		if obj != nil {
			out = append(out, inputFromFields(obj))
		}
	}
	return out
}

// SuffixColumns groups columns such as SKU_1, Price_1, SKU_2 by their
// numeric suffix, one line per suffix in ascending order.
func SuffixColumns(row csvparse.ParsedRow, _ csvparse.Mapping) []LineInput {
	groups := make(map[int]map[string]any)
	for key, value := range row.Data {
		i := strings.LastIndex(key, "_")
		if i <= 0 {
			continue
		}
		n, err := strconv.Atoi(key[i+1:])
		if err != nil || n < 1 {
			continue
		}
		if groups[n] == nil {
			groups[n] = make(map[string]any)
		}
		groups[n][key[:i]] = value
	}

	idx := make([]int, 0, len(groups))
	for n := range groups {
		idx = append(idx, n)
	}
	sort.Ints(idx)

	out := make([]LineInput, 0, len(idx))
	for _, n := range idx {
		out = append(out, inputFromFields(groups[n]))
	}
	return out
}

// FlatColumns builds a single line from the mapped SKU, Quantity, Price,
// ProductName and Discount columns. A missing quantity is derived as
// extended price / price, and a missing price as total / quantity, using the
// first row column whose name suggests it.
func FlatColumns(row csvparse.ParsedRow, m csvparse.Mapping) []LineInput {
	sku := m.Get(row, csvparse.FieldSKU)
	if sku == "" {
		return nil
	}
	in := LineInput{SKU: sku, Name: m.Get(row, csvparse.FieldProductName)}

	var qty, price float64
	if v, ok := csvparse.ParseNumber(m.Get(row, csvparse.FieldQuantity)); ok && v > 0 {
		qty = v
	}
	if v, ok := csvparse.CleanMoney(m.Get(row, csvparse.FieldPrice)); ok {
		price = v
	}

	if qty == 0 && price > 0 {
		if ext, ok := scanColumn(row, func(c string) bool {
			return strings.Contains(c, "extended") || strings.Contains(c, "total")
		}); ok && ext > 0 {
			qty = divide(ext, price)
		}
	}
	if price == 0 && qty > 0 {
		if total, ok := scanColumn(row, func(c string) bool {
			return strings.Contains(c, "total") && !strings.Contains(c, "extended")
		}); ok && total > 0 {
			price = divide(total, qty)
		}
	}

	if qty > 0 {
		in.Quantity = &qty
	}
	in.Price = &price
	if v, ok := csvparse.CleanMoney(m.Get(row, csvparse.FieldDiscount)); ok && v != 0 {
		in.Discount = &v
	}
	return []LineInput{in}
}

// scanColumn returns the first parseable money value among columns whose
// lower-cased name satisfies match, in header order.
func scanColumn(row csvparse.ParsedRow, match func(string) bool) (float64, bool) {
	for _, col := range row.Keys() {
		if !match(strings.ToLower(col)) {
			continue
		}
		if v, ok := csvparse.CleanMoney(row.Data[col]); ok {
			return v, true
		}
	}
	return 0, false
}

func divide(a, b float64) float64 {
	f, _ := decimal.NewFromFloat(a).Div(decimal.NewFromFloat(b)).Float64()
	return f
}

func inputFromFields(obj map[string]any) LineInput {
	in := LineInput{
		SKU:  stringField(obj, skuKeys),
		Name: stringField(obj, nameKeys),
	}
	if raw := stringField(obj, quantityKeys); raw != "" {
		q := 1.0
		if v, ok := csvparse.CleanMoney(raw); ok {
			q = v
		}
		in.Quantity = &q
	}
	if raw := stringField(obj, priceKeys); raw != "" {
		if v, ok := csvparse.CleanMoney(raw); ok {
			in.Price = &v
		}
	}
	if v, ok := csvparse.CleanMoney(stringField(obj, taxKeys)); ok {
		in.Tax = v
	}
	if raw := stringField(obj, discountKeys); raw != "" {
		if v, ok := csvparse.CleanMoney(raw); ok {
			in.Discount = &v
		}
	}
	return in
}

// stringField returns the first non-empty value among keys as text.
func stringField(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case nil:
			continue
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

// BuildLines runs the strategies in order and returns the first non-empty
// set of resolved lines. Inputs whose SKU does not resolve to a product are
// dropped.
func (b *Builder) BuildLines(ctx context.Context, row csvparse.ParsedRow, m csvparse.Mapping) []cin7.LineItem {
	for _, strategy := range b.strategies {
		if lines := b.ResolveLines(ctx, strategy(row, m)); len(lines) > 0 {
			return lines
		}
	}
	return nil
}

// ResolveLines resolves each input against the product catalog.
func (b *Builder) ResolveLines(ctx context.Context, inputs []LineInput) []cin7.LineItem {
	var out []cin7.LineItem
	for _, in := range inputs {
		if line, ok := b.resolveLine(ctx, in); ok {
			out = append(out, line)
		}
	}
	return out
}

func (b *Builder) resolveLine(ctx context.Context, in LineInput) (cin7.LineItem, bool) {
	if in.SKU == "" || in.Price == nil {
		return cin7.LineItem{}, false
	}
	p := b.resolver.ProductBySKU(ctx, in.SKU)
	if p == nil || p.ID == "" {
		return cin7.LineItem{}, false
	}
	name := p.Name
	if name == "" {
		name = in.Name
	}
	if name == "" {
		return cin7.LineItem{}, false
	}

	qty := 1.0
	if in.Quantity != nil {
		qty = *in.Quantity
	}
	return cin7.LineItem{
		ProductID: p.ID,
		SKU:       in.SKU,
		Name:      name,
		Quantity:  qty,
		Price:     *in.Price,
		Tax:       in.Tax,
		TaxRule:   b.settings.TaxRule,
		Discount:  in.Discount,
	}, true
}

// LinesTotal returns the sum of quantity * price - discount over lines.
func LinesTotal(lines []cin7.LineItem) float64 {
	total := decimal.Zero
	for _, l := range lines {
		lt := decimal.NewFromFloat(l.Quantity).Mul(decimal.NewFromFloat(l.Price))
		if l.Discount != nil {
			lt = lt.Sub(decimal.NewFromFloat(*l.Discount))
		}
		total = total.Add(lt)
	}
	f, _ := total.Float64()
	return f
}

// LinesTax returns the sum of line-level tax.
func LinesTax(lines []cin7.LineItem) float64 {
	tax := decimal.Zero
	for _, l := range lines {
		tax = tax.Add(decimal.NewFromFloat(l.Tax))
	}
	f, _ := tax.Float64()
	return f
}

// rowTax sums the mapped Tax column across rows.
func rowTax(rows []csvparse.ParsedRow, m csvparse.Mapping) float64 {
	tax := decimal.Zero
	for _, row := range rows {
		if v, ok := csvparse.CleanMoney(m.Get(row, csvparse.FieldTax)); ok {
			tax = tax.Add(decimal.NewFromFloat(v))
		}
	}
	f, _ := tax.Float64()
	return f
}
