package fuzzy

import (
	"regexp"
	"strings"
	"unicode"
)

// Address is a best-effort structured form of a free-text address. It is a
// heuristic for US-style "street / city STATE zip" blocks, not a general
// address parser.
type Address struct {
	Company  string `json:"Company,omitempty"`
	Line1    string `json:"Line1,omitempty"`
	Line2    string `json:"Line2,omitempty"`
	City     string `json:"City,omitempty"`
	State    string `json:"State,omitempty"`
	Postcode string `json:"Postcode,omitempty"`
	Country  string `json:"Country,omitempty"`
}

type abbreviation struct {
	re    *regexp.Regexp
	short string
}

var abbreviations = func() []abbreviation {
	pairs := [][2]string{
		{"street", "st"}, {"avenue", "ave"}, {"road", "rd"}, {"drive", "dr"},
		{"boulevard", "blvd"}, {"lane", "ln"}, {"court", "ct"}, {"place", "pl"},
		{"north", "n"}, {"south", "s"}, {"east", "e"}, {"west", "w"},
	}
	out := make([]abbreviation, len(pairs))
	for i, p := range pairs {
		out[i] = abbreviation{re: regexp.MustCompile(`\b` + p[0] + `\b`), short: p[1]}
	}
	return out
}()

// streetTokens mark an address line rather than a company name.
var streetTokens = map[string]bool{
	"street": true, "st": true, "avenue": true, "ave": true, "road": true, "rd": true,
	"drive": true, "dr": true, "boulevard": true, "blvd": true, "lane": true, "ln": true,
	"court": true, "ct": true, "place": true, "pl": true, "suite": true, "ste": true,
	"unit": true, "apt": true, "apartment": true,
}

var (
	zipRegex   = regexp.MustCompile(`\b(\d{5}(?:-\d{4})?)\b`)
	stateRegex = regexp.MustCompile(`\b([A-Z]{2})$`)
)

// NormalizeAddress collapses all whitespace to single spaces, lowercases and
// abbreviates street suffixes and compass directions on word boundaries.
func NormalizeAddress(s string) string {
	n := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	for _, a := range abbreviations {
		n = a.re.ReplaceAllString(n, a.short)
	}
	return n
}

// ParseAddress splits a multi-line address. The last non-empty line yields
// City, State and Postcode; of the remaining lines a leading one without
// digits or street tokens is treated as Company when more lines follow.
func ParseAddress(s string) Address {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return Address{}
	}

	var addr Address
	last := lines[len(lines)-1]
	if loc := zipRegex.FindStringSubmatchIndex(last); loc != nil {
		addr.Postcode = last[loc[2]:loc[3]]
		remaining := strings.TrimSpace(last[:loc[0]])
		if st := stateRegex.FindStringSubmatchIndex(remaining); st != nil {
			addr.State = remaining[st[2]:st[3]]
			addr.City = strings.TrimSpace(remaining[:st[0]])
		} else {
			addr.City = remaining
		}
	} else {
		addr.City = last
	}

	street := lines[:len(lines)-1]
	switch {
	case len(street) == 0:
		addr.Line1 = titleCase(NormalizeAddress(s))
	case len(street) > 1 && !looksLikeStreet(street[0]):
		addr.Company = street[0]
		addr.Line1 = street[1]
		if len(street) > 2 {
			addr.Line2 = street[2]
		}
	default:
		addr.Line1 = street[0]
		if len(street) > 1 {
			addr.Line2 = street[1]
		}
	}

	return addr
}

// Text joins the populated fields into a single comparable string.
func (a Address) Text() string {
	return JoinParts(a.Line1, a.Line2, a.City, a.State, a.Postcode, a.Country)
}

// JoinParts joins non-empty parts with single spaces.
func JoinParts(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func looksLikeStreet(line string) bool {
	if strings.ContainsAny(line, "0123456789#") {
		return true
	}
	words := strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if streetTokens[w] {
			return true
		}
	}
	return false
}

// titleCase upper-cases the first letter of each run of letters.
func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		prevLetter = false
		b.WriteRune(r)
	}
	return b.String()
}
