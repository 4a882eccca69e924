// Package money holds decimal helpers shared by the engine and the reporter.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Digit limits for amounts and rates read from outside. Arithmetic on a
// decimal rescales to the larger exponent, so "1e100000000" would build
// a hundred-million-digit integer on the first Add.
const (
	MaxWholeDigits    = 30
	MaxFractionDigits = 10
)

var hundred = decimal.NewFromInt(100)

// CheckDigits reports an error when d has more whole or fractional
// digits than the limits allow.
func CheckDigits(d decimal.Decimal) error {
	if d.IsZero() {
		return nil
	}
	exp := int64(d.Exponent())
	if exp < 0 && -exp > MaxFractionDigits {
		return fmt.Errorf("has more than %d fractional digits", MaxFractionDigits)
	}
	if int64(d.NumDigits())+exp > MaxWholeDigits {
		return fmt.Errorf("has more than %d whole digits", MaxWholeDigits)
	}
	return nil
}

// ClampZero returns d, or zero when d is negative.
func ClampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Format renders an amount with comma thousand separators, keeping any
// fractional digits: 1234567.5 -> "1,234,567.5".
func Format(d decimal.Decimal) string {
	s := d.String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	var b strings.Builder
	b.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// FormatNull renders a nullable amount, or "not available".
func FormatNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return "not available"
	}
	return Format(d.Decimal)
}

// FormatRate renders a 0..1 rate as a percentage: 0.1 -> "10%".
func FormatRate(rate decimal.Decimal) string {
	return rate.Mul(hundred).String() + "%"
}
