// CLAUDE:SUMMARY Brazilian-locale monetary parsing ("1.234,56") with a lossy zero fallback, strict decimal-comma codec for self-produced files, and R$ formatting.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Parse converts a locale-formatted monetary string into an exact value.
//
// When the input contains a comma, every "." is treated as a thousands
// separator and dropped, then the comma becomes the decimal point. Inputs
// without a comma are parsed as-is. Empty or unparseable input yields zero;
// Parse never fails.
func Parse(raw string) decimal.Decimal {
	d, _ := ParseChecked(raw)
	return d
}

// ParseChecked behaves like Parse and also reports whether a non-empty input
// had to fall back to zero. Empty input is not a fallback.
func ParseChecked(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, true
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseDecimalComma parses a value written by FormatDecimalComma: an optional
// sign, digits and at most one "," decimal separator. Empty input is zero.
// Anything else is an error: a mismatched convention must not be absorbed.
func ParseDecimalComma(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.ContainsAny(s, ".eE") || strings.Count(s, ",") > 1 {
		return decimal.Zero, fmt.Errorf("not a decimal-comma number: %q", raw)
	}
	d, err := decimal.NewFromString(strings.Replace(s, ",", ".", 1))
	if err != nil {
		return decimal.Zero, fmt.Errorf("not a decimal-comma number: %q", raw)
	}
	return d, nil
}

// FormatDecimalComma renders d with "," as the decimal separator and no
// thousands grouping (1500, 2000,5, -12,34).
func FormatDecimalComma(d decimal.Decimal) string {
	return strings.Replace(d.String(), ".", ",", 1)
}

// FormatBRL renders d as Brazilian currency, e.g. "R$ 1.234,56".
func FormatBRL(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	out := "R$ " + b.String() + "," + frac
	if neg {
		out = "-" + out
	}
	return out
}
