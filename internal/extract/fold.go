package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics so "Méxicó" matches "mexico".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ContainsAny reports whether the folded text contains any folded keyword.
// An empty keyword list matches everything.
func ContainsAny(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	folded := Fold(text)
	for _, k := range keywords {
		if k = Fold(strings.TrimSpace(k)); k != "" && strings.Contains(folded, k) {
			return true
		}
	}
	return false
}
