// Package money converts between the decimal major-unit amounts stored by the
// ledger and the integer minor-unit amounts spoken by the payment gateway.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerMajor is the subunit factor for the supported currencies (INR paise, USD cents).
const MinorUnitsPerMajor = 100

// MaxAmount is the first major-unit amount that no longer fits NUMERIC(14,2).
var MaxAmount = decimal.New(1, 12)

var (
	hundred = decimal.NewFromInt(MinorUnitsPerMajor)

	ErrNonPositive  = errors.New("amount must be greater than 0")
	ErrTooPrecise   = errors.New("amount must have at most 2 decimal places")
	ErrInvalidValue = errors.New("amount is not a valid decimal")
	ErrTooLarge     = errors.New("amount must be less than 1000000000000")
)

// ToMinor converts a major-unit amount to minor units, rounding half-up.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts a minor-unit amount back to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Round2 rounds to two decimal places, half-up.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// Parse reads a request amount and rejects values the gateway cannot represent exactly.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, ErrInvalidValue
	}
	return d, Validate(d)
}

// Validate checks that an amount is positive, below MaxAmount and has no
// sub-minor-unit precision.
func Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNonPositive
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return ErrTooLarge
	}
	if !amount.Equal(amount.Round(2)) {
		return ErrTooPrecise
	}
	return nil
}

// SellerShare returns what the seller earns from gross after the platform fee
// (a percentage, e.g. 5 for 5%). The fee is rounded half-up to the minor unit.
func SellerShare(gross, feePercent decimal.Decimal) decimal.Decimal {
	if !feePercent.IsPositive() {
		return gross
	}
	fee := gross.Mul(feePercent).Div(hundred).Round(2)
	return gross.Sub(fee)
}
