package validate

// group.go folds CSV rows into logical orders. Rows sharing an invoice
// number form one order; rows without one fall back to the sale order
// number, and rows with neither are orders of their own.

import (
	"strconv"
	"strings"

	"github.com/JonMunkholm/cin7sync/internal/csvparse"
)

// OrderGroup is the rows of one logical order. Rows[0] supplies the
// order-level fields.
type OrderGroup struct {
	Key  string               `json:"order_key"`
	Rows []csvparse.ParsedRow `json:"rows"`
}

// RowNumbers returns the source row numbers in the group.
func (g OrderGroup) RowNumbers() []int {
	out := make([]int, len(g.Rows))
	for i, r := range g.Rows {
		out[i] = r.RowNumber
	}
	return out
}

// Primary returns the row that supplies order-level fields.
func (g OrderGroup) Primary() csvparse.ParsedRow {
	if len(g.Rows) == 0 {
		return csvparse.ParsedRow{}
	}
	return g.Rows[0]
}

// GroupRows groups rows by INV_<invoice>, then SO_<sale order>, then
// ROW_<n>. Groups are returned in the order their first row appears.
func GroupRows(rows []csvparse.ParsedRow, m csvparse.Mapping) []OrderGroup {
	invoiceCol := m[csvparse.FieldInvoiceNumber]
	orderCol := m[csvparse.FieldSaleOrderNumber]

	var groups []OrderGroup
	index := make(map[string]int)
	for _, row := range rows {
		key := ""
		if v := cellFold(row, invoiceCol); v != "" {
			key = "INV_" + v
		} else if v := cellFold(row, orderCol); v != "" {
			key = "SO_" + v
		} else {
			key = "ROW_" + strconv.Itoa(row.RowNumber)
		}

		if i, ok := index[key]; ok {
			groups[i].Rows = append(groups[i].Rows, row)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, OrderGroup{Key: key, Rows: []csvparse.ParsedRow{row}})
	}
	return groups
}

// cellFold returns the trimmed cell for col, matching the header
// case-insensitively when there is no exact match.
func cellFold(row csvparse.ParsedRow, col string) string {
	if col == "" {
		return ""
	}
	if v, ok := row.Data[col]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range row.Data {
		if strings.EqualFold(k, col) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
