package orders

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies are charged in whole units by card processors.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {}, "MGA": {},
	"PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// Exponent returns the number of minor-unit digits for currency.
func Exponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToUpper(currency)]; ok {
		return 0
	}
	return 2
}

// MaxChargeMinor is the largest amount a single payment may carry, in minor units (Stripe's card ceiling).
const MaxChargeMinor int64 = 99_999_999

var ErrAmountOutOfRange = errors.New("amount out of range")

// MinorUnits converts an amount to the integer minor units processors expect, rounding half away from zero.
// Negative amounts and amounts above MaxChargeMinor are rejected rather than truncated.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	units := amount.Shift(Exponent(currency)).Round(0)
	if units.IsNegative() || !units.BigInt().IsInt64() || units.IntPart() > MaxChargeMinor {
		return 0, fmt.Errorf("%w: %s %s", ErrAmountOutOfRange, amount.String(), strings.ToUpper(currency))
	}
	return units.IntPart(), nil
}

// FormatAmount renders amount with the currency's minor-unit precision.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(Exponent(currency))
}
