package trader

import (
	"github.com/shopspring/decimal"

	"github.com/pairbot/statarb/internal/domain"
)

// FormatPrice rounds price to the nearest multiple of tick.
func FormatPrice(price float64, tick decimal.Decimal) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	if !tick.IsPositive() {
		return p
	}
	return p.Div(tick).Round(0).Mul(tick)
}

// FormatSize rounds size down to a multiple of step so an order never
// exceeds the budget it was sized from.
func FormatSize(size float64, step decimal.Decimal) decimal.Decimal {
	s := decimal.NewFromFloat(size)
	if !step.IsPositive() {
		return s
	}
	return s.Div(step).Floor().Mul(step)
}

// aggressivePrice moves ref by slip against the order: up for a buy, down
// for a sell.
func aggressivePrice(side domain.OrderSide, ref, slip float64) float64 {
	if side == domain.OrderSideBuy {
		return ref * (1 + slip)
	}
	return ref * (1 - slip)
}
