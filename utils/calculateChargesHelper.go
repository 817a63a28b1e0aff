package utils

import (
	"github.com/shopspring/decimal"
)

// CalculatePercentAmount applies a percent rate to a base amount:
// (base / 100) * rate, rounded to 4 places the way the rest of the
// money math is.
func CalculatePercentAmount(base decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	if rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return base.DivRound(decimal.NewFromInt(100), 4).Mul(rate)
}

func CalculateDiscountAmount(subTotal decimal.Decimal, discount decimal.Decimal, discountType string) decimal.Decimal {

	var discountAmount decimal.Decimal

	decimalOneHundred := decimal.NewFromInt(100)

	if discount.GreaterThan(decimal.Zero) {
		if discountType == "P" {
			discountAmount = subTotal.Mul(discount).DivRound(decimalOneHundred, 4)
		} else {
			discountAmount = discount
		}
	} else {
		discountAmount = decimal.Zero
	}

	return discountAmount
}
