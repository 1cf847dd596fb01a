package http

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var minorFactor = decimal.NewFromInt(100)

// decimalToMinor переводит денежную сумму из десятичного представления в
// минимальные единицы. Доли цента не округляются, а отклоняются: клиент
// обязан прислать ровно ту сумму, которую видел.
func decimalToMinor(amount decimal.Decimal) (int64, error) {
	minor := amount.Mul(minorFactor)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s has a fraction of a cent", amount.String())
	}
	return minor.IntPart(), nil
}

// minorToDecimal переводит сумму из минимальных единиц в десятичную строку
// с двумя знаками после запятой.
func minorToDecimal(minor int64) string {
	return decimal.NewFromInt(minor).Div(minorFactor).StringFixed(2)
}
