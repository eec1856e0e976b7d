package model

import "github.com/shopspring/decimal"

// Fractional digits of the numeric columns. Postgres rounds anything finer,
// and a row and its movements would then round apart.
const (
	QuantityScale int32 = 3
	MoneyScale    int32 = 2
	CostScale     int32 = 4
)

// FitsScale reports whether d needs at most places fractional digits.
// Trailing zeros do not count: 1.5000 fits a scale of 1.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
