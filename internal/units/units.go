// Package units parses and formats the SI-prefixed quantities used for
// component values and frequencies ("5G", "4.7kΩ", "50fF", "1meg").
package units

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Unit constants
const (
	Hertz = "Hz"
	Ohm   = "Ω"
	Farad = "F"
)

// ErrInvalidQuantity is returned when a value string cannot be parsed.
var ErrInvalidQuantity = errors.New("invalid quantity")

// Multipliers follow SPICE: suffixes are case-sensitive except that "meg"
// is mega and a bare "m" is milli.
var prefixes = map[string]float64{
	"T":   1e12,
	"G":   1e9,
	"meg": 1e6,
	"Meg": 1e6,
	"MEG": 1e6,
	"M":   1e6,
	"K":   1e3,
	"k":   1e3,
	"m":   1e-3,
	"u":   1e-6,
	"µ":   1e-6,
	"μ":   1e-6,
	"n":   1e-9,
	"p":   1e-12,
	"f":   1e-15,
}

var quantityRe = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)\s*(meg|Meg|MEG|[TGMKkmuµμnpf])?$`)

// unit suffixes accepted after the prefix, longest first
var unitSuffixes = []string{"ohms", "ohm", "Ohm", "hz", "Hz", "HZ", "Ω", "F"}

// Parse converts a string such as "5G", "5GHz", "5e9", "4.7k", "50fF" or
// "1meg" into a float. A trailing unit symbol is ignored.
func Parse(s string) (float64, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidQuantity)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	for _, suffix := range unitSuffixes {
		if strings.HasSuffix(s, suffix) && len(s) > len(suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	m := quantityRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, raw)
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidQuantity, raw, err)
	}
	if m[2] != "" {
		v *= prefixes[m[2]]
	}
	return v, nil
}

// MustParse is Parse for constants known to be valid.
func MustParse(s string) float64 {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Format renders v with an SI prefix and three decimals at most, e.g.
// "5.483 GHz" or "50 fF".
func Format(v float64, unit string) string {
	return FormatDigits(v, 3, unit)
}

// FormatDigits is Format with an explicit number of decimals.
func FormatDigits(v float64, decimals int, unit string) string {
	return humanize.SIWithDigits(v, decimals, unit)
}
