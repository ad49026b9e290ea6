// Package position maintains the weighted-average accounting, protective-order
// lifecycle, and risk-reservation bookkeeping for open counter-trade positions.
package position

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

const (
	atrPeriod        = 14
	adaptiveMinPct   = 1
	adaptiveMaxPct   = 15
)

// ProtectiveDistances returns the profit-target and stop-loss distances, as
// percentages of entry price, for one position. When the strategy requests
// the adaptive rule, both distances come from ATR×multiplier clamped to
// [1%, 15%]; otherwise they're the strategy's fixed percentages.
func ProtectiveDistances(strategy *domain.Strategy, klines []domain.VenueKline) (profitPct, stopPct decimal.Decimal) {
	if !strategy.UseAdaptiveATR {
		return strategy.ProfitTargetPercent, strategy.StopLossPercent
	}

	atrPct := AdaptiveATRPercent(strategy, klines)
	if atrPct.IsZero() {
		return strategy.ProfitTargetPercent, strategy.StopLossPercent
	}
	return atrPct, atrPct
}

// AdaptiveATRPercent computes ATR(14) over the supplied klines, scales it by
// the strategy's multiplier, expresses it as a percentage of the latest
// close, and clamps to [1%, 15%]. Returns zero when there isn't enough
// history to compute a 14-period ATR.
func AdaptiveATRPercent(strategy *domain.Strategy, klines []domain.VenueKline) decimal.Decimal {
	if len(klines) < atrPeriod+1 {
		return decimal.Zero
	}

	highs := make([]float64, len(klines))
	lows := make([]float64, len(klines))
	closes := make([]float64, len(klines))
	for i, k := range klines {
		highs[i], _ = k.High.Float64()
		lows[i], _ = k.Low.Float64()
		closes[i], _ = k.Close.Float64()
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	if len(atr) == 0 {
		return decimal.Zero
	}
	latestATR := atr[len(atr)-1]
	latestClose := closes[len(closes)-1]
	if latestClose <= 0 {
		return decimal.Zero
	}

	pct := decimal.NewFromFloat(latestATR).
		Mul(strategy.ATRMultiplier).
		Div(decimal.NewFromFloat(latestClose)).
		Mul(decimal.NewFromInt(100))

	return moneys.ClampPercent(pct, decimal.NewFromInt(adaptiveMinPct), decimal.NewFromInt(adaptiveMaxPct))
}

// StopLossPrice and TakeProfitPrice translate a distance percentage into an
// absolute price on the correct side of entry for the position's direction.
func StopLossPrice(side domain.Side, avgEntry, stopPct decimal.Decimal) decimal.Decimal {
	delta := moneys.PercentOf(avgEntry, stopPct)
	if side == domain.SideLong {
		return avgEntry.Sub(delta)
	}
	return avgEntry.Add(delta)
}

func TakeProfitPrice(side domain.Side, avgEntry, profitPct decimal.Decimal) decimal.Decimal {
	delta := moneys.PercentOf(avgEntry, profitPct)
	if side == domain.SideLong {
		return avgEntry.Add(delta)
	}
	return avgEntry.Sub(delta)
}

// LossPerUnit is the absolute per-unit loss realized if the stop-loss fills,
// the figure the risk-budget gate and ReserveRisk both need.
func LossPerUnit(side domain.Side, avgEntry, stopPct decimal.Decimal) decimal.Decimal {
	sl := StopLossPrice(side, avgEntry, stopPct)
	if side == domain.SideLong {
		return avgEntry.Sub(sl).Abs()
	}
	return sl.Sub(avgEntry).Abs()
}

// ReserveRisk computes the full projected loss if every remaining layer
// fills and the stop-loss is hit: the loss on quantity already filled plus
// the loss on (max_layers - layers_filled) more layers, each estimated at
// plannedLayerQuantity (the same sizing formula used for the next layer).
func ReserveRisk(side domain.Side, quantity, avgEntry, stopPct, plannedLayerQuantity decimal.Decimal, layersFilled, maxLayers int) decimal.Decimal {
	remainingLayers := maxLayers - layersFilled
	if remainingLayers < 0 {
		remainingLayers = 0
	}
	projectedQty := quantity.Add(plannedLayerQuantity.Mul(decimal.NewFromInt(int64(remainingLayers))))
	return LossPerUnit(side, avgEntry, stopPct).Mul(projectedQty)
}
