package money

import (
	"fmt"
	"math"
	"strings"
)

// exponents maps currency codes to the number of decimal places amounts are
// held at in plan minor units. Ledger-native scales are larger and are
// handled by Rescale at the adapter boundary.
var exponents = map[string]int{
	"USD": 2,
	"EUR": 2,
	"KES": 2,
	"ZWD": 2,
}

// Exponent returns the minor-unit decimal exponent for a currency.
func Exponent(currency string) (int, error) {
	exp, ok := exponents[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return exp, nil
}

// pow10 for the small exponent range amounts use (0..18).
func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// ParseDecimal parses a decimal string into minor units at the given
// exponent. More fraction digits than the exponent allows is an error, not
// a silent truncation.
func ParseDecimal(s string, exp int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > exp {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, exp)
	}

	units := int64(0)
	for _, d := range whole {
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		if units > (math.MaxInt64-int64(d-'0'))/10 {
			return 0, fmt.Errorf("amount %q overflows int64 minor units", s)
		}
		units = units*10 + int64(d-'0')
	}
	scale := pow10(exp)
	if units > math.MaxInt64/scale {
		return 0, fmt.Errorf("amount %q overflows int64 minor units", s)
	}
	units *= scale

	fracUnits := int64(0)
	for _, d := range frac {
		if d < '0' || d > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		fracUnits = fracUnits*10 + int64(d-'0')
	}
	fracUnits *= pow10(exp - len(frac))

	if units > math.MaxInt64-fracUnits {
		return 0, fmt.Errorf("amount %q overflows int64 minor units", s)
	}
	units += fracUnits
	if neg {
		units = -units
	}
	return units, nil
}

// FormatUnits renders minor units at the given exponent as a canonical
// decimal string, e.g. FormatUnits(3334, 2) == "33.34".
func FormatUnits(units int64, exp int) string {
	neg := units < 0
	if neg {
		units = -units
	}
	p := pow10(exp)
	s := fmt.Sprintf("%d", units/p)
	if exp > 0 {
		s += fmt.Sprintf(".%0*d", exp, units%p)
	}
	if neg {
		s = "-" + s
	}
	return s
}

// RoundHalfUp divides num by den, rounding half away from zero. den must be
// positive.
func RoundHalfUp(num, den int64) int64 {
	q := num / den
	r := num % den
	if r < 0 {
		r = -r
	}
	if 2*r >= den {
		if num < 0 {
			q--
		} else {
			q++
		}
	}
	return q
}

// Rescale converts minor units between decimal exponents, rounding half-up
// when precision is lost. Used by chain adapters to encode plan amounts
// into a ledger's native integer unit, never by truncation. Scaling up
// errors when the amount does not fit in int64 at the target exponent.
func Rescale(units int64, fromExp, toExp int) (int64, error) {
	switch {
	case toExp > fromExp:
		p := pow10(toExp - fromExp)
		if units > math.MaxInt64/p || units < math.MinInt64/p {
			return 0, fmt.Errorf("amount %d overflows int64 at exponent %d", units, toExp)
		}
		return units * p, nil
	case toExp < fromExp:
		return RoundHalfUp(units, pow10(fromExp-toExp)), nil
	default:
		return units, nil
	}
}
