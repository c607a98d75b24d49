package csvparse

// transform.go coerces raw cell text into the canonical forms the Cin7 API
// expects. Every function reports failure through its ok result and never
// returns an error; callers decide whether a bad value is fatal.

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind selects the coercion TransformValue applies.
type Kind string

// Supported value kinds.
const (
	KindString  Kind = "string"
	KindDate    Kind = "date"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindUUID    Kind = "uuid"
)

// DateLayout is the canonical output date format.
const DateLayout = "2006-01-02"

// dateLayout is one accepted input layout. twoDigit layouts get the
// 00-50 => 2000s, 51-99 => 1900s century rule.
type dateLayout struct {
	layout   string
	twoDigit bool
}

// dateLayouts are tried in order; the first that parses wins.
var dateLayouts = []dateLayout{
	{"2006-1-2", false},
	{"1/2/2006", false},
	{"1/2/06", true},
	{"2/1/2006", false},
	{"2/1/06", true},
	{"2006/1/2", false},
	{"2-1-2006", false},
	{"1-2-2006", false},
	{"1-2-06", true},
	{"2-1-06", true},
	{"2-Jan-06", true},
	{"2-Jan-2006", false},
	{"2 Jan 06", true},
	{"2 Jan 2006", false},
	{"Jan 2, 2006", false},
	{"January 2, 2006", false},
}

var (
	uuidRegex    = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	nonNumRegex  = regexp.MustCompile(`[^\d.-]`)
	truthyValues = map[string]bool{"true": true, "yes": true, "y": true, "1": true, "on": true}
)

// TransformValue coerces raw according to kind and returns its canonical
// string form. Empty input and unparseable values return ok=false.
func TransformValue(raw string, kind Kind) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	switch kind {
	case KindDate:
		return ParseDate(raw)
	case KindNumber:
		f, ok := ParseNumber(raw)
		if !ok {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, 64), true
	case KindBoolean:
		return strconv.FormatBool(ParseBool(raw)), true
	case KindUUID:
		return ParseUUID(raw)
	default:
		return raw, true
	}
}

// ParseDate parses s against the accepted layouts and returns YYYY-MM-DD.
func ParseDate(s string) (string, bool) {
	t, ok := parseTime(s)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

// ParseDateHint is ParseDate with a fallback user format such as
// "DD.MM.YYYY" tried after the built-in layouts.
func ParseDateHint(s, hint string) (string, bool) {
	if out, ok := ParseDate(s); ok {
		return out, true
	}
	if hint == "" {
		return "", false
	}

	layout := strings.NewReplacer("YYYY", "2006", "MM", "01", "DD", "02", "YY", "06").Replace(hint)
	t, err := time.Parse(layout, strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return t.Format(DateLayout), true
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, dl := range dateLayouts {
		t, err := time.Parse(dl.layout, s)
		if err != nil {
			continue
		}
		if dl.twoDigit {
			yy := t.Year() % 100
			century := 1900
			if yy <= 50 {
				century = 2000
			}
			t = time.Date(century+yy, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return t, true
	}
	return time.Time{}, false
}

// ParseNumber removes thousands separators and any character other than
// digits, '.' and '-' before parsing, so "$1,234.50" yields 1234.5.
func ParseNumber(s string) (float64, bool) {
	cleaned := nonNumRegex.ReplaceAllString(strings.ReplaceAll(s, ",", ""), "")
	if cleaned == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseBool accepts true, yes, y, 1 and on (case-insensitive). Anything
// else is false.
func ParseBool(s string) bool {
	return truthyValues[strings.ToLower(strings.TrimSpace(s))]
}

// ParseUUID returns s when it is a canonical 8-4-4-4-12 hex UUID.
func ParseUUID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !uuidRegex.MatchString(s) {
		return "", false
	}
	return s, true
}

// IsUUID reports whether s is a canonical UUID.
func IsUUID(s string) bool {
	_, ok := ParseUUID(s)
	return ok
}

// CleanMoney strips "$" and "," then parses; used for Price, Tax and
// Discount cells that must not lose a leading minus or decimal point.
func CleanMoney(s string) (float64, bool) {
	s = strings.TrimSpace(strings.NewReplacer("$", "", ",", "").Replace(s))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
