package cascade

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/vantapoint/liqengine/internal/domain"
)

const (
	retFloor = 1e-5

	lqThresholdHigh = 8.0
	lqThresholdLow  = 4.0
	oiThresholdHigh = 4.0
	oiThresholdLow  = 2.0

	scoreRed    = 6
	scoreOrange = 4
	scoreYellow = 2

	deEscalateSustainTicks = 6
)

// dominantSide returns the liquidated side with the larger share of notional
// over the window, or "" when neither side clears the 60/40 split.
func dominantSide(longNotional, shortNotional float64) domain.Side {
	total := longNotional + shortNotional
	if total <= 0 {
		return ""
	}
	longRatio := longNotional / total
	switch {
	case longRatio > 0.6:
		return domain.SideLong
	case longRatio < 0.4:
		return domain.SideShort
	default:
		return ""
	}
}

// computeLQ sums the dominant side's window and divides by the median of its
// non-zero samples. Zero when the window has no non-zero samples.
func computeLQ(sameSideWindow []float64) float64 {
	nonZero := make([]float64, 0, len(sameSideWindow))
	sum := 0.0
	for _, v := range sameSideWindow {
		sum += v
		if v != 0 {
			nonZero = append(nonZero, v)
		}
	}
	if len(nonZero) == 0 {
		return 0
	}
	return sum / median(nonZero)
}

// computeRET sums the absolute per-tick returns and divides by their standard
// deviation, floored to avoid a blow-up in near-zero-variance quiet markets.
// A single return has no defined deviation and is floored the same way.
func computeRET(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sumAbs := 0.0
	for _, r := range returns {
		sumAbs += math.Abs(r)
	}
	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) || sd < retFloor {
		sd = retFloor
	}
	return sumAbs / sd
}

// retAligned reports whether the dominant liquidation side disagrees with the
// sign of the most recent return, the case where a reversal is plausible.
func retAligned(side domain.Side, lastReturn float64) bool {
	switch side {
	case domain.SideLong:
		return lastReturn < 0
	case domain.SideShort:
		return lastReturn > 0
	default:
		return false
	}
}

// computeOI measures the open-interest collapse from its peak (over all but
// the latest sample) down to the latest sample, as a percentage.
func computeOI(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	latest := samples[len(samples)-1]
	maxPrior := samples[0]
	for _, v := range samples[:len(samples)-1] {
		if v > maxPrior {
			maxPrior = v
		}
	}
	if maxPrior <= 0 {
		return 0
	}
	collapse := (maxPrior - latest) / maxPrior * 100
	if collapse < 0 {
		return 0
	}
	return collapse
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

// score accumulates traffic-light points from the three indicators. retAligned
// gates whether RET contributes at all. retHigh/retMedium are the
// strategy-configured RET thresholds (defaults 35/25).
func score(lq, ret, oi, retHigh, retMedium float64, aligned bool) int {
	s := 0
	switch {
	case lq >= lqThresholdHigh:
		s += 2
	case lq >= lqThresholdLow:
		s += 1
	}
	if aligned {
		switch {
		case ret >= retHigh:
			s += 2
		case ret >= retMedium:
			s += 1
		}
	}
	switch {
	case oi >= oiThresholdHigh:
		s += 2
	case oi >= oiThresholdLow:
		s += 1
	}
	return s
}

func lightFromScore(s int) domain.CascadeLight {
	switch {
	case s >= scoreRed:
		return domain.CascadeRed
	case s >= scoreOrange:
		return domain.CascadeOrange
	case s >= scoreYellow:
		return domain.CascadeYellow
	default:
		return domain.CascadeGreen
	}
}

// lowerBand is the score a level must sustain at or below, for more than
// deEscalateSustainTicks consecutive ticks, before hysteresis permits
// stepping down one level.
func lowerBand(level domain.CascadeLight) int {
	switch level {
	case domain.CascadeRed:
		return scoreOrange
	case domain.CascadeOrange:
		return scoreYellow
	case domain.CascadeYellow:
		return 0
	default:
		return 0
	}
}

func oneStepDown(level domain.CascadeLight) domain.CascadeLight {
	if level > domain.CascadeGreen {
		return level - 1
	}
	return level
}

// quality buckets the reversal-confidence side channel from LQ, RET, and the
// two OI deltas. Purely informational — never a trade gate.
func quality(lq, ret, oiDelta60, oiDelta180, retHigh, retMedium float64) domain.ReversalQuality {
	points := 0
	if lq >= lqThresholdHigh {
		points += 2
	} else if lq >= lqThresholdLow {
		points++
	}
	if ret >= retHigh {
		points += 2
	} else if ret >= retMedium {
		points++
	}
	if oiDelta60 >= oiThresholdHigh || oiDelta180 >= oiThresholdHigh*1.5 {
		points += 2
	} else if oiDelta60 >= oiThresholdLow || oiDelta180 >= oiThresholdLow*1.5 {
		points++
	}

	switch {
	case points >= 6:
		return domain.ReversalExcellent
	case points >= 4:
		return domain.ReversalGood
	case points >= 2:
		return domain.ReversalOK
	default:
		return domain.ReversalPoor
	}
}
