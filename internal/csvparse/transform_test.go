package csvparse

import "testing"

func TestParseDate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "iso", input: "2024-01-15", want: "2024-01-15", wantOK: true},
		{name: "iso single digits", input: "2024-1-5", want: "2024-01-05", wantOK: true},
		{name: "us four digit year", input: "12/17/2025", want: "2025-12-17", wantOK: true},
		{name: "us two digit year", input: "12/17/25", want: "2025-12-17", wantOK: true},
		{name: "eu when month out of range", input: "17/12/2025", want: "2025-12-17", wantOK: true},
		{name: "us wins when ambiguous", input: "03/04/2024", want: "2024-03-04", wantOK: true},
		{name: "slash iso", input: "2024/02/29", want: "2024-02-29", wantOK: true},
		{name: "dashed day first", input: "17-12-2025", want: "2025-12-17", wantOK: true},
		{name: "abbreviated month two digit year", input: "17-Nov-25", want: "2025-11-17", wantOK: true},
		{name: "abbreviated month four digit year", input: "17-Nov-2025", want: "2025-11-17", wantOK: true},
		{name: "spaced abbreviated month", input: "17 Nov 25", want: "2025-11-17", wantOK: true},
		{name: "month name first", input: "Nov 17, 2025", want: "2025-11-17", wantOK: true},
		{name: "full month name", input: "November 17, 2025", want: "2025-11-17", wantOK: true},
		{name: "lowercase month", input: "17-nov-25", want: "2025-11-17", wantOK: true},
		{name: "pivot 50 is 2050", input: "1/1/50", want: "2050-01-01", wantOK: true},
		{name: "pivot 51 is 1951", input: "1/1/51", want: "1951-01-01", wantOK: true},
		{name: "99 is 1999", input: "5/3/99", want: "1999-05-03", wantOK: true},
		{name: "whitespace trimmed", input: "  2024-01-15  ", want: "2024-01-15", wantOK: true},
		{name: "not a date", input: "not-a-date", wantOK: false},
		{name: "empty", input: "", wantOK: false},
		{name: "impossible day", input: "2024-02-30", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseDate(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseDate_Idempotent(t *testing.T) {
	inputs := []string{"12/17/25", "17-Nov-25", "2024-01-15", "November 17, 2025", "31/12/1999"}
	for _, in := range inputs {
		once, ok := TransformValue(in, KindDate)
		if !ok {
			t.Fatalf("TransformValue(%q) failed", in)
		}
		twice, ok := TransformValue(once, KindDate)
		if !ok || twice != once {
			t.Errorf("TransformValue(TransformValue(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestParseDateHint(t *testing.T) {
	got, ok := ParseDateHint("15.01.2024", "DD.MM.YYYY")
	if !ok || got != "2024-01-15" {
		t.Errorf("ParseDateHint() = %q, %v; want %q, true", got, ok, "2024-01-15")
	}
	if _, ok := ParseDateHint("15.01.2024", ""); ok {
		t.Error("ParseDateHint() without hint should fail for dotted date")
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   float64
		wantOK bool
	}{
		{name: "integer", input: "123", want: 123, wantOK: true},
		{name: "decimal", input: "123.45", want: 123.45, wantOK: true},
		{name: "negative", input: "-3", want: -3, wantOK: true},
		{name: "thousands separator", input: "1,234.50", want: 1234.5, wantOK: true},
		{name: "currency symbol", input: "$1,234.50", want: 1234.5, wantOK: true},
		{name: "units suffix", input: "12 cases", want: 12, wantOK: true},
		{name: "accounting parens lose sign", input: "(12.5)", want: 12.5, wantOK: true},
		{name: "letters only", input: "abc", wantOK: false},
		{name: "two decimal points", input: "1.2.3", wantOK: false},
		{name: "empty", input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"true", "YES", "y", "1", "On"} {
		if !ParseBool(in) {
			t.Errorf("ParseBool(%q) = false, want true", in)
		}
	}
	for _, in := range []string{"false", "no", "0", "off", "", "maybe"} {
		if ParseBool(in) {
			t.Errorf("ParseBool(%q) = true, want false", in)
		}
	}
}

func TestParseUUID(t *testing.T) {
	tests := []struct {
		input  string
		wantOK bool
	}{
		{"0b4ad8a7-4a31-4a8e-9c1e-6a7f3b0d2c11", true},
		{"0B4AD8A7-4A31-4A8E-9C1E-6A7F3B0D2C11", true},
		{"0b4ad8a74a314a8e9c1e6a7f3b0d2c11", false},
		{"{0b4ad8a7-4a31-4a8e-9c1e-6a7f3b0d2c11}", false},
		{"0b4ad8a7-4a31-4a8e-9c1e-6a7f3b0d2c1", false},
		{"not-a-uuid", false},
		{"", false},
	}

	for _, tt := range tests {
		if _, ok := ParseUUID(tt.input); ok != tt.wantOK {
			t.Errorf("ParseUUID(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
		}
	}
}

func TestTransformValue(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		want   string
		wantOK bool
	}{
		{"date", "12/17/25", KindDate, "2025-12-17", true},
		{"number", "$99.90", KindNumber, "99.9", true},
		{"boolean true", "yes", KindBoolean, "true", true},
		{"boolean false", "nope", KindBoolean, "false", true},
		{"uuid", "0b4ad8a7-4a31-4a8e-9c1e-6a7f3b0d2c11", KindUUID, "0b4ad8a7-4a31-4a8e-9c1e-6a7f3b0d2c11", true},
		{"string trimmed", "  hello ", KindString, "hello", true},
		{"empty is invalid", "   ", KindNumber, "", false},
		{"bad date", "soon", KindDate, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TransformValue(tt.raw, tt.kind)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("TransformValue(%q, %s) = %q, %v; want %q, %v", tt.raw, tt.kind, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCleanMoney(t *testing.T) {
	got, ok := CleanMoney("$1,299.00")
	if !ok || got != 1299 {
		t.Errorf("CleanMoney() = %v, %v; want 1299, true", got, ok)
	}
	if _, ok := CleanMoney("twelve"); ok {
		t.Error("CleanMoney(\"twelve\") ok = true")
	}
}
