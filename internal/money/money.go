// Package money holds decimal helpers for GBP amounts and card fee arithmetic.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Places is the number of fractional digits stored for every amount.
const Places = 2

// Currency is the ISO code used for every charge.
const Currency = "gbp"

// ErrInvalidAmount reports a malformed or out-of-range amount.
var ErrInvalidAmount = errors.New("money: invalid amount")

var (
	hundred = decimal.NewFromInt(100)
	printer = message.NewPrinter(language.BritishEnglish)
	symbol  = printer.Sprint(currency.Symbol(currency.GBP))
)

// Round rounds half away from zero to two places.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Parse reads a user supplied amount. It rejects blanks, more than two
// fractional digits and non-positive values.
func Parse(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: amount required", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if d.Exponent() < -Places && !d.Equal(Round(d)) {
		return decimal.Zero, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, Places)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Round(d), nil
}

// MinorUnits converts an amount to pence.
func MinorUnits(d decimal.Decimal) int64 {
	return Round(d).Shift(Places).IntPart()
}

// FromMinorUnits converts pence back to pounds.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -Places)
}

// Format renders an amount for people, e.g. £1,234.50.
func Format(d decimal.Decimal) string {
	d = Round(d)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	whole := d.IntPart()
	pence := d.Sub(decimal.NewFromInt(whole)).Shift(Places).IntPart()
	return fmt.Sprintf("%s%s%s.%02d", sign, symbol, printer.Sprintf("%d", whole), pence)
}
