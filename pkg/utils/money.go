package utils

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Notional - стоимость заявки price × qty
func Notional(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty)))
}

// PercentOf возвращает part/whole*100. При whole <= 0 ok=false.
func PercentOf(part, whole decimal.Decimal) (decimal.Decimal, bool) {
	if !whole.IsPositive() {
		return decimal.Zero, false
	}
	return part.Div(whole).Mul(hundred), true
}

// ApplyFill пересчитывает знаковую позицию и среднюю цену после исполнения.
//
// qty и fillQty знаковые (покупка > 0, продажа < 0). Наращивание позиции
// усредняет цену, сокращение сохраняет её, переворот берёт цену исполнения.
func ApplyFill(qty int, avg decimal.Decimal, fillQty int, fillPrice decimal.Decimal) (int, decimal.Decimal) {
	newQty := qty + fillQty
	switch {
	case newQty == 0:
		return 0, decimal.Zero
	case qty == 0 || sameSign(qty, fillQty):
		total := avg.Mul(decimal.NewFromInt(int64(abs(qty)))).
			Add(fillPrice.Mul(decimal.NewFromInt(int64(abs(fillQty)))))
		return newQty, total.Div(decimal.NewFromInt(int64(abs(newQty))))
	case sameSign(qty, newQty):
		return newQty, avg
	default:
		return newQty, fillPrice
	}
}

// SignedQuantity возвращает количество со знаком стороны сделки
func SignedQuantity(side string, qty int) int {
	if side == "SELL" {
		return -qty
	}
	return qty
}

func sameSign(a, b int) bool {
	return (a > 0) == (b > 0)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
