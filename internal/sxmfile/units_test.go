package sxmfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

func TestSIFactor(t *testing.T) {
	tests := []struct {
		token  string
		factor float64
		base   string
	}{
		{"pm", 1e-12, "m"},
		{"nm", 1e-9, "m"},
		{"NM", 1e-9, "m"}, // lower-cased fallback
		{"Å", 1e-10, "m"},
		{"angstrom", 1e-10, "m"},
		{"mm", 1e-3, "m"},
		{"pA", 1e-12, "A"},
		{"mV", 1e-3, "V"},
		{"kHz", 1e3, "Hz"},
		{"µs", 1e-6, "s"},
		{"deg", 1, "deg"},
		{"°", 1, "deg"},
		{"%", 1, "%"},
		{"a.u.", 1, ""},
		{"", 1, ""},
		{" nm ", 1e-9, "m"}, // surrounding whitespace tolerated
	}
	for _, tt := range tests {
		t.Run("token "+tt.token, func(t *testing.T) {
			factor, base, err := SIFactor(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.factor, factor)
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestSIFactorUnknownToken(t *testing.T) {
	for _, token := range []string{"furlong", "eV/atom", "counts"} {
		_, _, err := SIFactor(token)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindUnknownUnit))
		assert.Contains(t, err.Error(), token)
	}
}

func TestParseHeaderValue(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want domain.HeaderValue
	}{
		{
			name: "bare integer",
			raw:  "256",
			want: domain.NumberValue("256", 256),
		},
		{
			name: "bare float",
			raw:  "-3.25",
			want: domain.NumberValue("-3.25", -3.25),
		},
		{
			name: "scientific notation",
			raw:  "1.5e-9",
			want: domain.NumberValue("1.5e-9", 1.5e-9),
		},
		{
			name: "quantity with known unit",
			raw:  "12.5 pm",
			want: domain.QuantityValue("12.5 pm", 12.5, "pm", 12.5e-12),
		},
		{
			name: "quantity normalizes through the scale table",
			raw:  "2 nA",
			want: domain.QuantityValue("2 nA", 2, "nA", 2e-9),
		},
		{
			name: "number with unknown unit stays text",
			raw:  "3.2 furlong",
			want: domain.TextValue("3.2 furlong"),
		},
		{
			name: "free text",
			raw:  "forward scan",
			want: domain.TextValue("forward scan"),
		},
		{
			name: "empty value",
			raw:  "",
			want: domain.TextValue(""),
		},
		{
			name: "surrounding whitespace trimmed",
			raw:  "  42  ",
			want: domain.NumberValue("42", 42),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseHeaderValue(tt.raw))
		})
	}
}

func TestQuantityClaim(t *testing.T) {
	tests := []struct {
		raw   string
		token string
		ok    bool
	}{
		{"12.5 pm", "pm", true},
		{"3.2 furlong", "furlong", true},
		{"12.5", "", false},
		{"abc pm", "", false},
		{"1 2 3", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := quantityClaim(tt.raw)
		assert.Equal(t, tt.ok, ok, "raw %q", tt.raw)
		assert.Equal(t, tt.token, token, "raw %q", tt.raw)
	}
}
