// Package moneys is the single boundary where venue wire strings become
// fixed-precision decimals. The venue sends and receives every monetary and
// quantity value as a JSON string, and P&L, fees, and risk must never be
// computed in binary floating point. Every exchange client response and
// every persistence read/write goes through here.
package moneys

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Parse converts a venue wire string into a decimal. An empty string parses
// to zero, matching venues that omit zero-valued fields.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse without an error return, for constants and tests only.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// RoundQuantity rounds a quantity down to the symbol's step size, the venue's
// minimum tradable increment. Quantities are always rounded down (never up)
// so a submitted order never exceeds the risk budget that sized it.
func RoundQuantity(qty, stepSize decimal.Decimal, precision int32) decimal.Decimal {
	if stepSize.IsZero() {
		return qty.Truncate(precision)
	}
	steps := qty.Div(stepSize).Truncate(0)
	return steps.Mul(stepSize).Truncate(precision)
}

// RoundPrice rounds a price to the symbol's tick size, rounding to nearest.
func RoundPrice(price, tickSize decimal.Decimal, precision int32) decimal.Decimal {
	if tickSize.IsZero() {
		return price.Truncate(precision)
	}
	ticks := price.DivRound(tickSize, 0)
	return ticks.Mul(tickSize).Truncate(precision)
}

// WeightedAverage returns Σ(price·qty)/Σ(qty) for a set of fills, a
// position's average entry price.
func WeightedAverage(prices, quantities []decimal.Decimal) decimal.Decimal {
	if len(prices) != len(quantities) || len(prices) == 0 {
		return decimal.Zero
	}
	totalCost := decimal.Zero
	totalQty := decimal.Zero
	for i := range prices {
		totalCost = totalCost.Add(prices[i].Mul(quantities[i]))
		totalQty = totalQty.Add(quantities[i])
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

// PercentOf returns value * percent / 100.
func PercentOf(value, percent decimal.Decimal) decimal.Decimal {
	return value.Mul(percent).Div(decimal.NewFromInt(100))
}

// ClampPercent clamps a percentage value into [min, max], used by the
// adaptive ATR×k stop-loss/profit-target rule to keep distances within a
// sane band.
func ClampPercent(value, min, max decimal.Decimal) decimal.Decimal {
	if value.LessThan(min) {
		return min
	}
	if value.GreaterThan(max) {
		return max
	}
	return value
}
