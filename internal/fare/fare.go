// Package fare рассчитывает стоимость доставки и итоги заказа.
// Все денежные расчёты выполняются в decimal, без float.
package fare

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	// BaseFee: стоимость доставки в пределах BaseDistanceKm.
	BaseFee = decimal.RequireFromString("1.00")
	// PerKmRate: ставка за каждый километр сверх BaseDistanceKm.
	PerKmRate = decimal.RequireFromString("0.45")
	// TaxRate: ставка налога на (subtotal − discount).
	TaxRate = decimal.RequireFromString("0.16")
)

// BaseDistanceKm: расстояние, покрываемое базовой стоимостью.
const BaseDistanceKm = 1.0

// Line: позиция для расчёта итогов.
// Subtotal уже учитывает цену со скидкой, Discount: сумма скидки по позиции.
type Line struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
}

// Totals: итоги заказа.
type Totals struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// DeliveryFee возвращает стоимость доставки на distanceKm, округлённую до центов.
func DeliveryFee(distanceKm float64) decimal.Decimal {
	if math.IsNaN(distanceKm) || distanceKm <= BaseDistanceKm {
		return BaseFee
	}

	extra := decimal.NewFromFloat(distanceKm).Sub(decimal.NewFromFloat(BaseDistanceKm))
	return BaseFee.Add(extra.Mul(PerKmRate)).Round(2)
}

// LineSubtotal считает цену позиции: цена со скидкой применяется, если она ниже базовой.
// Возвращает цену за единицу, сумму скидки и subtotal позиции.
func LineSubtotal(price decimal.Decimal, discountPrice *decimal.Decimal, addons []decimal.Decimal, quantity int) (unit, discount, subtotal decimal.Decimal) {
	qty := decimal.NewFromInt(int64(quantity))

	unit = price
	discount = decimal.Zero
	if discountPrice != nil && discountPrice.IsPositive() && discountPrice.LessThan(price) {
		unit = *discountPrice
		discount = price.Sub(unit).Mul(qty)
	}

	extras := decimal.Zero
	for _, a := range addons {
		extras = extras.Add(a)
	}

	subtotal = unit.Add(extras).Mul(qty)
	return unit, discount, subtotal
}

// ComputeOrderTotals считает итоги заказа по позициям и стоимости доставки.
func ComputeOrderTotals(lines []Line, deliveryFee decimal.Decimal) Totals {
	subtotal := decimal.Zero
	discount := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Subtotal)
		discount = discount.Add(l.Discount)
	}

	base := subtotal.Sub(discount)
	tax := base.Mul(TaxRate).Round(2)

	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Tax:      tax,
		Total:    base.Add(tax).Add(deliveryFee),
	}
}
