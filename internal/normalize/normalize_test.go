package normalize_test

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/postpulse/internal/normalize"
)

func TestNormalize_Examples(t *testing.T) {
	t.Parallel()

	n := normalize.New(normalize.Options{})

	tests := []struct {
		in   string
		want int64
	}{
		{"1.2K", 1200},
		{"10 mil", 10000},
		{"2 millones", 2000000},
		{"1 millón", 1000000},
		{"", 0},
		{"abc", 0},
		{"1,234", 1234},
		{"3 comentarios", 3},
		{"10.2K Me gusta", 10200},
		{"5 respuestas", 5},
		{"5.7M", 5700000},
		{"1,5k", 1500},
		{"1.2345K", 1234},
		{"1,234,567 views", 1234567},
		{"1,234.9", 1234},
		{"12min", 12},
		{"5 Me gusta", 5},
		{"Reacciones: 1,2 mil", 1200},
		{"2.5 MILLONES", 2500000},
		{"423 Replies. Reply", 423},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, n.Normalize(tc.in))
		})
	}
}

func TestNormalize_LocaleDecidesAmbiguousSeparator(t *testing.T) {
	t.Parallel()

	en := normalize.New(normalize.Options{Locale: normalize.LocaleEnglish})
	es := normalize.New(normalize.Options{Locale: normalize.LocaleSpanish})

	assert.Equal(t, int64(1234), en.Normalize("1,234"))
	assert.Equal(t, int64(1), es.Normalize("1,234"))

	assert.Equal(t, int64(1), en.Normalize("1.234"))
	assert.Equal(t, int64(1234), es.Normalize("1.234"))

	// Non-ambiguous forms read the same everywhere.
	for _, n := range []*normalize.Normalizer{en, es} {
		assert.Equal(t, int64(1200), n.Normalize("1.2K"))
		assert.Equal(t, int64(1200), n.Normalize("1,2K"))
		assert.Equal(t, int64(1234567), n.Normalize("1.234.567"))
		assert.Equal(t, int64(10500), n.Normalize("10,5 mil"))
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"1.2K", "10 mil", "2 millones", "1,234", "1.234", "", "abc", "999", "7.77M", "0"}
	for _, loc := range []normalize.Locale{normalize.LocaleEnglish, normalize.LocaleSpanish} {
		n := normalize.New(normalize.Options{Locale: loc})
		for _, in := range inputs {
			first := n.Normalize(in)
			assert.GreaterOrEqual(t, first, int64(0))
			assert.Equal(t, first, n.Normalize(strconv.FormatInt(first, 10)), "locale=%s input=%q", loc, in)
		}
	}
}

func TestParse_ReportsMissing(t *testing.T) {
	t.Parallel()

	n := normalize.New(normalize.Options{Strict: true})
	require.True(t, n.Strict())

	v, ok := n.Parse("no digits here")
	assert.False(t, ok)
	assert.Zero(t, v)

	v, ok = n.Parse("0 likes")
	assert.True(t, ok)
	assert.Zero(t, v)
}

func TestParseLocale(t *testing.T) {
	t.Parallel()

	loc, err := normalize.ParseLocale(" ES ")
	require.NoError(t, err)
	assert.Equal(t, normalize.LocaleSpanish, loc)

	loc, err = normalize.ParseLocale("")
	require.NoError(t, err)
	assert.Equal(t, normalize.LocaleEnglish, loc)

	_, err = normalize.ParseLocale("fr")
	assert.Error(t, err)
}
