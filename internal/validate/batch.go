package validate

// batch.go validates whole uploads. Rows are grouped into orders, each
// group is validated row by row, and the group result carries per-field
// status, order metrics and, when a builder is present, the payloads that
// would be submitted.

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/cin7sync/internal/builder"
	"github.com/JonMunkholm/cin7sync/internal/cin7"
	"github.com/JonMunkholm/cin7sync/internal/csvparse"
)

// Field status values.
const (
	StatusReady    = "ready"
	StatusMissing  = "missing"
	StatusOptional = "optional"
	StatusInvalid  = "invalid"
)

// Display field sets reported in FieldStatus.
var (
	RequiredFields = []csvparse.Field{
		csvparse.FieldCustomerName, csvparse.FieldCustomerReference,
		csvparse.FieldSaleDate, csvparse.FieldSKU, csvparse.FieldPrice,
	}
	OptionalFields = []csvparse.Field{
		csvparse.FieldCurrency, csvparse.FieldTaxInclusive, csvparse.FieldProductName,
		csvparse.FieldQuantity, csvparse.FieldDiscount, csvparse.FieldTax, csvparse.FieldNotes,
	}
)

// FieldStatus describes one display field of an order.
type FieldStatus struct {
	Status  string `json:"status"`
	Value   any    `json:"value"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

// Preview holds the payloads an order would submit.
type Preview struct {
	Sale      cin7.SalePayload      `json:"sale"`
	SaleOrder cin7.SaleOrderPayload `json:"sale_order"`
	Error     string                `json:"error,omitempty"`
}

// OrderMetrics summarizes an order for review.
type OrderMetrics struct {
	PONumber      string  `json:"po_number"`
	CustomerName  string  `json:"customer_name"`
	OrderDate     string  `json:"order_date"`
	DueDate       string  `json:"due_date"`
	LineItemCount int     `json:"line_item_count"`
	TotalCases    float64 `json:"total_cases"`
	OrderTotal    float64 `json:"order_total"`
}

// Summary counts a validated batch.
type Summary struct {
	Rows          int     `json:"rows"`
	Orders        int     `json:"orders"`
	ValidOrders   int     `json:"valid_orders"`
	InvalidOrders int     `json:"invalid_orders"`
	OrderTotal    float64 `json:"order_total"`
}

// BatchResult is the outcome of ValidateBatch. Groups holds the orders in
// the same order as Valid and Invalid draw from.
type BatchResult struct {
	Valid   []RowResult  `json:"valid"`
	Invalid []RowResult  `json:"invalid"`
	Groups  []OrderGroup `json:"-"`
	Summary Summary      `json:"summary"`
}

// ValidGroups returns the groups whose result is valid.
func (b BatchResult) ValidGroups() []OrderGroup {
	ok := make(map[string]bool, len(b.Valid))
	for _, r := range b.Valid {
		ok[r.OrderKey] = true
	}
	out := make([]OrderGroup, 0, len(b.Valid))
	for _, g := range b.Groups {
		if ok[g.Key] {
			out = append(out, g)
		}
	}
	return out
}

// ValidateBatch groups rows into orders and validates each order. An order
// is valid when none of its rows has an error.
func (v *Validator) ValidateBatch(ctx context.Context, rows []csvparse.ParsedRow, m csvparse.Mapping) BatchResult {
	groups := GroupRows(rows, m)
	out := BatchResult{
		Valid:   []RowResult{},
		Invalid: []RowResult{},
		Groups:  groups,
		Summary: Summary{Rows: len(rows), Orders: len(groups)},
	}

	total := decimal.Zero
	for _, g := range groups {
		res := v.validateGroup(ctx, g, m)
		if res.Metrics != nil {
			total = total.Add(decimal.NewFromFloat(res.Metrics.OrderTotal))
		}
		if res.Valid {
			out.Valid = append(out.Valid, res)
		} else {
			out.Invalid = append(out.Invalid, res)
		}
	}

	out.Summary.ValidOrders = len(out.Valid)
	out.Summary.InvalidOrders = len(out.Invalid)
	out.Summary.OrderTotal, _ = total.Float64()
	return out
}

func (v *Validator) validateGroup(ctx context.Context, g OrderGroup, m csvparse.Mapping) RowResult {
	primary := g.Primary()
	res := RowResult{
		OrderKey:   g.Key,
		RowNumber:  primary.RowNumber,
		RowNumbers: g.RowNumbers(),
		Errors:     []string{},
		Data:       primary.Data,
		MappedData: builder.MappedValues(primary, m),
	}

	for _, row := range g.Rows {
		r := v.ValidateRow(ctx, row, m)
		res.Errors = append(res.Errors, r.Errors...)
		res.Warnings = append(res.Warnings, r.Warnings...)
		mergeMeta(&res.Meta, r.Meta)
	}

	if v.builder != nil {
		res.Preview = v.preview(ctx, g, m)
		if res.Preview.Error == "" && len(res.Preview.SaleOrder.Lines) == 0 {
			res.Errors = append(res.Errors, "Order has no line items that resolve to Cin7 products")
		}
	}

	res.FieldStatus = v.fieldStatus(primary, m, res)
	res.Metrics = metrics(res.MappedData, res.Preview)
	res.Valid = len(res.Errors) == 0
	return res
}

// mergeMeta keeps the first customer and address match of a group and ORs
// the creation flags.
func mergeMeta(dst *Meta, src Meta) {
	if dst.CustomerMatch == nil {
		dst.CustomerMatch = src.CustomerMatch
	}
	if dst.AddressMatch == nil {
		dst.AddressMatch = src.AddressMatch
	}
	if len(dst.Suggestions) == 0 {
		dst.Suggestions = src.Suggestions
	}
	dst.NeedsCustomerCreation = dst.NeedsCustomerCreation || src.NeedsCustomerCreation
	dst.NeedsAddressCreation = dst.NeedsAddressCreation || src.NeedsAddressCreation
}

func (v *Validator) preview(ctx context.Context, g OrderGroup, m csvparse.Mapping) (p *Preview) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("preview build panicked", slog.String("order_key", g.Key), slog.Any("panic", r))
			p = &Preview{Error: "Failed to build payloads"}
		}
	}()

	sale, _ := v.builder.BuildSale(ctx, g.Primary(), m)
	order := v.builder.BuildSaleOrder(ctx, g.Rows, m, builder.PlaceholderSaleID)
	return &Preview{Sale: sale, SaleOrder: order}
}

func (v *Validator) fieldStatus(primary csvparse.ParsedRow, m csvparse.Mapping, res RowResult) map[string]FieldStatus {
	out := make(map[string]FieldStatus, len(RequiredFields)+len(OptionalFields))
	for _, f := range RequiredFields {
		out[string(f)] = v.baseStatus(primary, m, f, true)
	}
	for _, f := range OptionalFields {
		out[string(f)] = v.baseStatus(primary, m, f, false)
	}

	if st := out[string(csvparse.FieldCustomerName)]; st.Status == StatusReady {
		switch {
		case res.Meta.CustomerMatch != nil && res.Meta.CustomerMatch.CustomerID != "":
			st.Message = "Customer found in Cin7 (exact match)"
		case firstMatching(res.Errors, isCustomerError) != "":
			st.Status = StatusInvalid
			st.Message = firstMatching(res.Errors, isCustomerError)
		default:
			st.Message = "Customer found in Cin7"
		}
		out[string(csvparse.FieldCustomerName)] = st
	}

	if st := out[string(csvparse.FieldSKU)]; st.Status == StatusReady {
		if msg := firstMatching(res.Errors, isProductError); msg != "" {
			st.Status = StatusInvalid
			st.Message = msg
			out[string(csvparse.FieldSKU)] = st
		}
	}

	if st := out[string(csvparse.FieldPrice)]; st.Status != StatusReady && res.Preview != nil {
		for _, l := range res.Preview.SaleOrder.Lines {
			if l.Price != 0 {
				st.Status = StatusReady
				st.Value = l.Price
				st.Message = "Price calculated from Total ÷ Quantity"
				out[string(csvparse.FieldPrice)] = st
				break
			}
		}
	}
	return out
}

func (v *Validator) baseStatus(row csvparse.ParsedRow, m csvparse.Mapping, f csvparse.Field, required bool) FieldStatus {
	absent, suffix := StatusOptional, " (optional)"
	if required {
		absent, suffix = StatusMissing, " (required)"
	}

	col := m[f]
	if col == "" {
		return FieldStatus{Status: absent, Message: "Not mapped" + suffix}
	}

	value := m.Get(row, f)
	if value == "" {
		if f == csvparse.FieldCurrency {
			return FieldStatus{Status: StatusReady, Value: v.settings.Currency(), Source: "default", Message: "Using default currency"}
		}
		return FieldStatus{Status: absent, Source: col, Message: "Empty value" + suffix}
	}

	if f == csvparse.FieldSaleDate {
		d, ok := csvparse.ParseDate(value)
		if !ok {
			return FieldStatus{Status: StatusInvalid, Value: value, Source: col, Message: "Invalid date format: " + value}
		}
		return FieldStatus{Status: StatusReady, Value: d, Source: col, Message: "Date parsed successfully"}
	}
	return FieldStatus{Status: StatusReady, Value: value, Source: col, Message: "Mapped and ready"}
}

func isCustomerError(e string) bool {
	return strings.Contains(e, "Customer") &&
		(strings.Contains(strings.ToLower(e), "not found") || strings.Contains(e, "Customer validation failed"))
}

func isProductError(e string) bool {
	return strings.Contains(e, "Product not found") || strings.Contains(e, "product validation failed")
}

func firstMatching(list []string, pred func(string) bool) string {
	for _, s := range list {
		if pred(s) {
			return s
		}
	}
	return ""
}

func metrics(mapped map[string]string, p *Preview) *OrderMetrics {
	om := &OrderMetrics{
		PONumber:     mapped[string(csvparse.FieldCustomerReference)],
		CustomerName: mapped[string(csvparse.FieldCustomerName)],
		OrderDate:    mapped[string(csvparse.FieldSaleDate)],
		DueDate:      mapped[string(csvparse.FieldShipBy)],
	}
	if p == nil || p.Error != "" {
		return om
	}

	cases := decimal.Zero
	for _, l := range p.SaleOrder.Lines {
		cases = cases.Add(decimal.NewFromFloat(l.Quantity))
	}
	om.LineItemCount = len(p.SaleOrder.Lines)
	om.TotalCases, _ = cases.Float64()
	om.OrderTotal = p.SaleOrder.Total
	return om
}
