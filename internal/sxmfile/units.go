package sxmfile

import (
	"strconv"
	"strings"

	"sxmcli/internal/errs"
	"sxmcli/pkg/contracts/domain"
)

// unitEntry maps a declared unit token to its SI base unit and scale
// factor. The table is fixed: resolving an unlisted token is an error,
// never a silent factor of 1.
type unitEntry struct {
	factor float64
	base   string
}

// unitTable covers the unit tokens instrument headers declare. Lookup
// is exact first, then lower-cased, so "pm" and "PM" both resolve while
// case distinguishes "mV" from nothing it should not.
var unitTable = map[string]unitEntry{
	// length -> meters
	"pm":       {1e-12, "m"},
	"nm":       {1e-9, "m"},
	"um":       {1e-6, "m"},
	"µm":       {1e-6, "m"},
	"μm":       {1e-6, "m"},
	"mm":       {1e-3, "m"},
	"cm":       {1e-2, "m"},
	"m":        {1, "m"},
	"ang":      {1e-10, "m"},
	"angstrom": {1e-10, "m"},
	"Å":        {1e-10, "m"},

	// current -> amperes
	"pA": {1e-12, "A"},
	"nA": {1e-9, "A"},
	"uA": {1e-6, "A"},
	"µA": {1e-6, "A"},
	"mA": {1e-3, "A"},
	"A":  {1, "A"},

	// voltage -> volts
	"pV": {1e-12, "V"},
	"nV": {1e-9, "V"},
	"uV": {1e-6, "V"},
	"µV": {1e-6, "V"},
	"mV": {1e-3, "V"},
	"V":  {1, "V"},

	// frequency -> hertz
	"Hz":  {1, "Hz"},
	"kHz": {1e3, "Hz"},
	"MHz": {1e6, "Hz"},
	"GHz": {1e9, "Hz"},

	// time -> seconds
	"us": {1e-6, "s"},
	"µs": {1e-6, "s"},
	"ms": {1e-3, "s"},
	"s":  {1, "s"},

	// angle, ratio, raw counts
	"deg":  {1, "deg"},
	"°":    {1, "deg"},
	"%":    {1, "%"},
	"a.u.": {1, ""},
	"":     {1, ""},
}

// SIFactor resolves a declared unit token into its scale factor and SI
// base unit. An unresolvable token yields an UnknownUnit error.
func SIFactor(token string) (float64, string, error) {
	token = strings.TrimSpace(token)
	if e, ok := unitTable[token]; ok {
		return e.factor, e.base, nil
	}
	if e, ok := unitTable[strings.ToLower(token)]; ok {
		return e.factor, e.base, nil
	}
	return 0, "", errs.UnknownUnit(token)
}

// parseHeaderValue types a raw header value string. Bare numbers become
// number values; a "<number> <known-unit>" pair becomes a quantity with
// its SI magnitude; everything else stays text. A number followed by an
// unknown token is text here: only fields the decoder consumes as
// quantities escalate that to an UnknownUnit error.
func parseHeaderValue(raw string) domain.HeaderValue {
	raw = strings.TrimSpace(raw)

	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return domain.NumberValue(raw, v)
	}

	fields := strings.Fields(raw)
	if len(fields) == 2 {
		if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
			if factor, _, uerr := SIFactor(fields[1]); uerr == nil {
				return domain.QuantityValue(raw, v, fields[1], v*factor)
			}
		}
	}

	return domain.TextValue(raw)
}

// quantityClaim reports whether a text-kind value looks like a numeric
// magnitude with a unit token, and returns that token. Used to fail
// loudly when a consumed field carries a unit the table cannot resolve.
func quantityClaim(raw string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) != 2 {
		return "", false
	}
	if _, err := strconv.ParseFloat(fields[0], 64); err != nil {
		return "", false
	}
	return fields[1], true
}
