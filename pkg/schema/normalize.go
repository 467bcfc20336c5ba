// CLAUDE:SUMMARY Label normalization for categorical columns (NFC, trim, Portuguese upper-case, placeholder for blanks) and accent-folded match keys.
package schema

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NotClassified is the default label for blank categorical cells.
const NotClassified = "NOT CLASSIFIED"

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLabel trims and upper-cases a categorical value so that "saúde ",
// "Saúde" and "SAÚDE" group together. Composed and decomposed accents are
// unified first. Blank values become placeholder.
func NormalizeLabel(s, placeholder string) string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return placeholder
	}
	return cases.Upper(language.BrazilianPortuguese).String(s)
}

// FoldKey upper-cases and strips accents (e.g. "Tributária" -> "TRIBUTARIA"),
// for matching labels against keyword lists.
func FoldKey(s string) string {
	result, _, _ := transform.String(stripAccents, strings.ToUpper(strings.TrimSpace(s)))
	return result
}
