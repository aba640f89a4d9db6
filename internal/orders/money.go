package orders

import (
	"strings"

	"github.com/shopspring/decimal"
)

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ToMinorUnits converts amount to the smallest unit of currency. Amounts with
// more precision than the currency supports are rejected, not rounded.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, invalidf("negative amount %s", amount)
	}
	exp := int32(2)
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		exp = 0
	}
	minor := amount.Shift(exp)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, invalidf("amount %s has more precision than %s allows", amount, currency)
	}
	return minor.IntPart(), nil
}
