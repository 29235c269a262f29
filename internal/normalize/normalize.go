// Package normalize turns human-written engagement counts ("1.2K", "10 mil",
// "2 millones", "1,234") into integers.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// Locale selects how an ambiguous single separator followed by exactly three
// digits ("1,234" or "1.234") is read.
type Locale string

const (
	// LocaleEnglish reads "," as a thousands separator and "." as a decimal point.
	LocaleEnglish Locale = "en"
	// LocaleSpanish reads "." as a thousands separator and "," as a decimal comma.
	LocaleSpanish Locale = "es"
)

// ParseLocale validates a locale name from configuration.
func ParseLocale(s string) (Locale, error) {
	switch Locale(strings.ToLower(strings.TrimSpace(s))) {
	case LocaleEnglish, "":
		return LocaleEnglish, nil
	case LocaleSpanish:
		return LocaleSpanish, nil
	default:
		return "", fmt.Errorf("unknown locale %q (want en or es)", s)
	}
}

// Options configures a Normalizer.
type Options struct {
	Locale Locale
	// Strict makes callers distinguish "no number found" from a real zero.
	// Normalize still returns 0; Parse reports ok=false.
	Strict bool
}

// Normalizer parses engagement counts. The zero value uses LocaleEnglish.
type Normalizer struct {
	locale Locale
	strict bool
}

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	loc := opts.Locale
	if loc == "" {
		loc = LocaleEnglish
	}
	return &Normalizer{locale: loc, strict: opts.Strict}
}

// Locale returns the configured locale.
func (n *Normalizer) Locale() Locale {
	if n == nil || n.locale == "" {
		return LocaleEnglish
	}
	return n.locale
}

// Strict reports whether strict mode is enabled.
func (n *Normalizer) Strict() bool {
	return n != nil && n.strict
}

var (
	// number followed directly by a scale letter that does not start a word
	scaleLetterRe = regexp.MustCompile(`(\d[\d.,]*)([kKmM])(?:[^\p{L}]|$)`)
	// number followed by a Spanish scale word
	scaleWordRe = regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(mill[oó]n(?:es)?|mil)(?:[^\p{L}]|$)`)
	numberRe    = regexp.MustCompile(`\d[\d.,]*`)
	// maximal digit groups separated by one separator each
	groupedRe = regexp.MustCompile(`^\d{1,3}([.,]\d{3})+$`)
)

// Normalize returns the count written in raw, or 0 when none can be found.
// It never returns a negative value.
func (n *Normalizer) Normalize(raw string) int64 {
	v, _ := n.Parse(raw)
	return v
}

// Parse is Normalize with an ok flag that is false when raw holds no digits.
func (n *Normalizer) Parse(raw string) (int64, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, false
	}

	if m := scaleLetterRe.FindStringSubmatch(text); m != nil {
		scale := int64(1_000)
		if m[2] == "M" || m[2] == "m" {
			scale = 1_000_000
		}
		return n.scaled(m[1], scale), true
	}

	if m := scaleWordRe.FindStringSubmatch(text); m != nil {
		scale := int64(1_000)
		if strings.HasPrefix(strings.ToLower(m[2]), "mill") {
			scale = 1_000_000
		}
		return n.scaled(m[1], scale), true
	}

	if m := numberRe.FindString(text); m != "" {
		return n.scaled(m, 1), true
	}

	return 0, false
}

// scaled multiplies a number token by scale, truncating any fraction.
func (n *Normalizer) scaled(token string, scale int64) int64 {
	intPart, frac := n.split(token)

	var whole int64
	for _, r := range intPart {
		whole = whole*10 + int64(r-'0')
		if whole > maxCount {
			return maxCount
		}
	}
	if whole > maxCount/scale {
		return maxCount
	}
	result := whole * scale

	// Fractional digits beyond the scale cannot contribute a whole unit.
	var fracVal, div int64 = 0, 1
	for _, r := range frac {
		if div >= scale {
			break
		}
		fracVal = fracVal*10 + int64(r-'0')
		div *= 10
	}
	return result + fracVal*scale/div
}

// maxCount caps absurd inputs well below int64 overflow.
const maxCount = int64(1) << 53

// split separates a raw number token into integer digits and fraction digits
// according to the separator policy.
func (n *Normalizer) split(token string) (string, string) {
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return "0", ""
	}

	if groupedRe.MatchString(token) {
		seps := strings.Count(token, ".") + strings.Count(token, ",")
		sep := token[strings.IndexAny(token, ".,")]
		if seps > 1 && !strings.ContainsRune(token, otherSep(sep)) {
			// "1,234,567" / "1.234.567": only ever a grouping.
			return stripSeps(token), ""
		}
		if seps == 1 && !n.isThousands(sep) {
			i := strings.IndexByte(token, sep)
			return token[:i], token[i+1:]
		}
		if seps == 1 {
			return stripSeps(token), ""
		}
	}

	// The last separator is the decimal point; any earlier ones group digits.
	i := strings.LastIndexAny(token, ".,")
	if i < 0 {
		return token, ""
	}
	head, tail := token[:i], token[i+1:]
	if groupedRe.MatchString(head) || !strings.ContainsAny(head, ".,") {
		return stripSeps(head), tail
	}
	// Malformed groups such as "1.2.3": keep the first run only.
	j := strings.IndexAny(token, ".,")
	rest := token[j+1:]
	if k := strings.IndexAny(rest, ".,"); k >= 0 {
		rest = rest[:k]
	}
	return token[:j], rest
}

func (n *Normalizer) isThousands(sep byte) bool {
	if n.Locale() == LocaleSpanish {
		return sep == '.'
	}
	return sep == ','
}

func otherSep(sep byte) rune {
	if sep == '.' {
		return ','
	}
	return '.'
}

func stripSeps(s string) string {
	return strings.NewReplacer(".", "", ",", "").Replace(s)
}
