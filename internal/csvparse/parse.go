package csvparse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// SniffSize is how much of the decoded text the delimiter sniffer inspects.
const SniffSize = 1024

// Delimiters considered by the sniffer, in tie-break order.
var sniffCandidates = []rune{',', ';', '\t', '|'}

// keyFieldPatterns mark a row as real data when any column whose name
// contains the pattern has a value.
var keyFieldPatterns = []string{
	"customer", "customer name", "customername",
	"item", "item code", "itemcode", "sku",
	"order", "order #", "order#",
	"date", "po", "po #", "po#",
}

// totalFieldPatterns identify subtotal columns in ERP exports.
var totalFieldPatterns = []string{"total", "sum", "extended price", "extendedprice", "amount", "subtotal"}

// Parse decodes and reads an uploaded file into rows. It never panics; fatal
// problems are reported through Result.Errors with no rows.
func Parse(data []byte, filename string) Result {
	var (
		records [][]string
		err     error
	)

	if isWorkbook(filename) {
		records, err = readWorkbook(data)
		if err != nil {
			return Result{Errors: []string{fmt.Sprintf("Error reading workbook %s: %v", filename, err)}}
		}
	} else {
		text, derr := decode(data)
		if derr != nil {
			return Result{Errors: []string{fmt.Sprintf("Could not decode file %s. Please ensure it's UTF-8 or Latin-1 encoded.", filename)}}
		}
		records, err = readCSV(text, SniffDelimiter(text))
		if err != nil {
			return Result{Errors: []string{fmt.Sprintf("Error parsing CSV: %v", err)}}
		}
	}

	return fromRecords(records)
}

// decode returns data as UTF-8 text. Invalid UTF-8 is treated as Latin-1.
func decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return strings.TrimPrefix(string(data), "\ufeff"), nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("latin-1 decode: %w", err)
	}
	return string(out), nil
}

// SniffDelimiter picks the delimiter that splits the sample's lines most
// consistently, defaulting to comma.
func SniffDelimiter(text string) rune {
	sample := text
	if len(sample) > SniffSize {
		sample = sample[:SniffSize]
		// drop the trailing partial line
		if i := strings.LastIndexByte(sample, '\n'); i > 0 {
			sample = sample[:i]
		}
	}

	lines := strings.FieldsFunc(sample, func(r rune) bool { return r == '\n' || r == '\r' })
	if len(lines) == 0 {
		return ','
	}

	best, bestScore := ',', 0
	for _, d := range sniffCandidates {
		first := countOutsideQuotes(lines[0], d)
		if first == 0 {
			continue
		}
		consistent := 0
		for _, line := range lines {
			if countOutsideQuotes(line, d) == first {
				consistent++
			}
		}
		// consistency dominates; the per-line count breaks ties
		score := consistent*1000 + first
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func countOutsideQuotes(line string, d rune) int {
	n, quoted := 0, false
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}

func readCSV(text string, delimiter rune) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

func isWorkbook(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// readWorkbook returns the first sheet's rows as CSV-style records.
func readWorkbook(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

// fromRecords converts raw records into rows, applying the completeness
// heuristic. Record 0 is the header.
func fromRecords(records [][]string) Result {
	res := Result{Rows: []ParsedRow{}, Errors: []string{}, Skipped: []int{}}
	if len(records) == 0 {
		return res
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	res.Headers = header

	for i, rec := range records[1:] {
		rowNum := i + 2

		data := make(map[string]string, len(header))
		cols := make([]string, 0, len(header))
		for j, key := range header {
			if key == "" {
				continue
			}
			val := ""
			if j < len(rec) {
				val = strings.TrimSpace(rec[j])
			}
			if _, dup := data[key]; !dup {
				cols = append(cols, key)
			}
			data[key] = val
		}
		if len(data) == 0 {
			continue
		}

		row := ParsedRow{RowNumber: rowNum, Data: data, Columns: cols}
		if !IsRowComplete(row) {
			res.Skipped = append(res.Skipped, rowNum)
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	return res
}

// IsRowComplete reports whether row looks like real order data rather than a
// summary or subtotal line.
func IsRowComplete(row ParsedRow) bool {
	nonEmpty := 0
	for _, v := range row.Data {
		if strings.TrimSpace(v) != "" {
			nonEmpty++
		}
	}
	if nonEmpty < 3 {
		return false
	}

	if !hasKeyField(row) {
		return false
	}

	onlyTotals := true
	for k, v := range row.Data {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if !containsAny(strings.ToLower(k), totalFieldPatterns) {
			onlyTotals = false
			break
		}
	}
	return !(onlyTotals && nonEmpty <= 2)
}

func hasKeyField(row ParsedRow) bool {
	for _, pattern := range keyFieldPatterns {
		for k, v := range row.Data {
			if strings.Contains(strings.ToLower(k), pattern) && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
