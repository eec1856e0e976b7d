package service

import (
	"nexopos/internal/apperror"
	"nexopos/internal/model"

	"github.com/shopspring/decimal"
)

func checkQuantity(field string, d decimal.Decimal) error {
	return checkScale(field, d, model.QuantityScale)
}

func checkMoney(field string, d decimal.Decimal) error {
	return checkScale(field, d, model.MoneyScale)
}

func checkCost(field string, d decimal.Decimal) error {
	return checkScale(field, d, model.CostScale)
}

func checkScale(field string, d decimal.Decimal, places int32) error {
	if !model.FitsScale(d, places) {
		return apperror.Validation("%s %s has more than %d decimal places", field, d, places)
	}
	return nil
}
