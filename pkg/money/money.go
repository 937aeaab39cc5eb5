// Package money converts between the decimal amounts stored on subscriptions
// and the minor units provider APIs expect.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

func exponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// FromMinor turns 2999 USD into 29.99.
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -exponent(currency))
}

// ToMinor turns 29.99 USD into 2999. Sub-minor digits are rounded half away
// from zero.
func ToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(exponent(currency)).Round(0).IntPart()
}

// FormatDecimal renders a decimal amount with the currency's precision.
func FormatDecimal(amount decimal.Decimal, currency string) string {
	cur := strings.ToUpper(currency)
	return amount.StringFixed(exponent(cur)) + " " + cur
}

// Normalize rounds amount to the currency's minor unit.
func Normalize(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(exponent(currency))
}
