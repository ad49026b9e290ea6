package strategy

import "github.com/shopspring/decimal"

// percentileWindowSeconds is the lookback, in seconds, used to rank a liquidation's notional
// against recent same-symbol liquidations.
const percentileWindowSeconds = 60

// PercentileRank returns the percentage of population at or below current,
// i.e. current's percentile rank within the sample. An empty population
// ranks the current value at the 100th percentile, since there is nothing
// to compare it against yet — the first liquidation on a symbol always
// clears the gate.
func PercentileRank(current decimal.Decimal, population []decimal.Decimal) decimal.Decimal {
	if len(population) == 0 {
		return decimal.NewFromInt(100)
	}
	countLE := 0
	for _, v := range population {
		if v.LessThanOrEqual(current) {
			countLE++
		}
	}
	return decimal.NewFromInt(int64(countLE)).
		Div(decimal.NewFromInt(int64(len(population)))).
		Mul(decimal.NewFromInt(100))
}
