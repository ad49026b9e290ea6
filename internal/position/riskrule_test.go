package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/domain"
)

func fixedStrategy() *domain.Strategy {
	return &domain.Strategy{
		ProfitTargetPercent: decimal.NewFromInt(2),
		StopLossPercent:     decimal.NewFromInt(1),
		UseAdaptiveATR:      false,
		ATRMultiplier:       decimal.NewFromInt(2),
	}
}

func TestProtectiveDistances_FixedRule(t *testing.T) {
	profit, stop := ProtectiveDistances(fixedStrategy(), nil)
	assert.True(t, profit.Equal(decimal.NewFromInt(2)))
	assert.True(t, stop.Equal(decimal.NewFromInt(1)))
}

func TestProtectiveDistances_AdaptiveFallsBackWithoutEnoughKlines(t *testing.T) {
	strategy := fixedStrategy()
	strategy.UseAdaptiveATR = true
	profit, stop := ProtectiveDistances(strategy, nil)
	assert.True(t, profit.Equal(decimal.NewFromInt(2)), "falls back to fixed percent without 15 klines")
	assert.True(t, stop.Equal(decimal.NewFromInt(1)))
}

func TestAdaptiveATRPercent_ClampsToBand(t *testing.T) {
	strategy := fixedStrategy()
	strategy.ATRMultiplier = decimal.NewFromInt(1000) // force clamping to the upper band

	klines := syntheticKlines(30, 100, 5)
	pct := AdaptiveATRPercent(strategy, klines)
	require.True(t, pct.LessThanOrEqual(decimal.NewFromInt(15)))
	require.True(t, pct.GreaterThanOrEqual(decimal.NewFromInt(1)))
}

func TestStopLossPrice_LongIsBelowEntry(t *testing.T) {
	price := StopLossPrice(domain.SideLong, decimal.NewFromInt(100), decimal.NewFromInt(5))
	assert.True(t, price.Equal(decimal.NewFromInt(95)))
}

func TestStopLossPrice_ShortIsAboveEntry(t *testing.T) {
	price := StopLossPrice(domain.SideShort, decimal.NewFromInt(100), decimal.NewFromInt(5))
	assert.True(t, price.Equal(decimal.NewFromInt(105)))
}

func TestTakeProfitPrice_LongIsAboveEntry(t *testing.T) {
	price := TakeProfitPrice(domain.SideLong, decimal.NewFromInt(100), decimal.NewFromInt(2))
	assert.True(t, price.Equal(decimal.NewFromInt(102)))
}

func TestTakeProfitPrice_ShortIsBelowEntry(t *testing.T) {
	price := TakeProfitPrice(domain.SideShort, decimal.NewFromInt(100), decimal.NewFromInt(2))
	assert.True(t, price.Equal(decimal.NewFromInt(98)))
}

func TestLossPerUnit_IsSymmetricAbsoluteDistance(t *testing.T) {
	long := LossPerUnit(domain.SideLong, decimal.NewFromInt(100), decimal.NewFromInt(5))
	short := LossPerUnit(domain.SideShort, decimal.NewFromInt(100), decimal.NewFromInt(5))
	assert.True(t, long.Equal(decimal.NewFromInt(5)))
	assert.True(t, short.Equal(decimal.NewFromInt(5)))
}

func TestReserveRisk_ProjectsRemainingLayers(t *testing.T) {
	// loss/unit = 5, filled qty = 1, 2 more layers of 1 each projected => 3 units * 5 = 15
	risk := ReserveRisk(domain.SideLong, decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(5), decimal.NewFromInt(1), 1, 3)
	assert.True(t, risk.Equal(decimal.NewFromInt(15)), "got %s", risk)
}

func TestReserveRisk_NoRemainingLayersWhenAtMax(t *testing.T) {
	risk := ReserveRisk(domain.SideLong, decimal.NewFromInt(3), decimal.NewFromInt(100), decimal.NewFromInt(5), decimal.NewFromInt(1), 3, 3)
	assert.True(t, risk.Equal(decimal.NewFromInt(15)), "got %s", risk)
}

func syntheticKlines(n int, base, spread float64) []domain.VenueKline {
	out := make([]domain.VenueKline, n)
	now := time.Unix(0, 0)
	for i := 0; i < n; i++ {
		price := base + float64(i%5)
		out[i] = domain.VenueKline{
			OpenTime: now.Add(time.Duration(i) * time.Minute),
			Open:     decimal.NewFromFloat(price),
			High:     decimal.NewFromFloat(price + spread),
			Low:      decimal.NewFromFloat(price - spread),
			Close:    decimal.NewFromFloat(price),
			Volume:   decimal.NewFromFloat(10),
		}
	}
	return out
}
