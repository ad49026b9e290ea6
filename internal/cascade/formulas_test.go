package cascade

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vantapoint/liqengine/internal/domain"
)

func TestDominantSide(t *testing.T) {
	assert.Equal(t, domain.SideLong, dominantSide(70, 30))
	assert.Equal(t, domain.SideShort, dominantSide(20, 80))
	assert.Equal(t, domain.Side(""), dominantSide(50, 50))
	assert.Equal(t, domain.Side(""), dominantSide(0, 0))
}

func TestComputeLQ_ZeroWhenNoNonZeroSamples(t *testing.T) {
	assert.Equal(t, 0.0, computeLQ([]float64{0, 0, 0}))
	assert.Equal(t, 0.0, computeLQ(nil))
}

func TestComputeLQ_SumOverMedian(t *testing.T) {
	// sum = 60, non-zero median (middle of sorted [10,20,30]) = 20 -> LQ = 3
	lq := computeLQ([]float64{10, 20, 30})
	assert.InDelta(t, 3.0, lq, 1e-9)
}

func TestComputeRET_FloorsNearZeroVariance(t *testing.T) {
	ret := computeRET([]float64{0, 0, 0, 0})
	assert.Equal(t, 0.0, ret) // sumAbs is 0 regardless of the floor
}

func TestComputeRET_ZeroWhenEmpty(t *testing.T) {
	assert.Equal(t, 0.0, computeRET(nil))
}

func TestRetAligned(t *testing.T) {
	assert.True(t, retAligned(domain.SideLong, -0.01))
	assert.False(t, retAligned(domain.SideLong, 0.01))
	assert.True(t, retAligned(domain.SideShort, 0.01))
	assert.False(t, retAligned(domain.SideShort, -0.01))
	assert.False(t, retAligned("", 0.01))
}

func TestComputeOI_CollapseFromPeak(t *testing.T) {
	// peak of first N-1 is 100, latest is 80 -> 20% collapse
	oi := computeOI([]float64{90, 100, 95, 80})
	assert.InDelta(t, 20.0, oi, 1e-9)
}

func TestComputeOI_NeverNegative(t *testing.T) {
	oi := computeOI([]float64{80, 90, 100}) // OI rising, not collapsing
	assert.Equal(t, 0.0, oi)
}

func TestComputeOI_TooFewSamples(t *testing.T) {
	assert.Equal(t, 0.0, computeOI([]float64{1}))
	assert.Equal(t, 0.0, computeOI(nil))
}

func TestScore_AccumulatesByThreshold(t *testing.T) {
	// LQ high (+2), RET high aligned (+2), OI high (+2) -> 6 -> red-eligible
	s := score(10, 40, 5, 35, 25, true)
	assert.Equal(t, 6, s)
}

func TestScore_RETIgnoredWhenNotAligned(t *testing.T) {
	s := score(10, 40, 5, 35, 25, false)
	assert.Equal(t, 4, s) // LQ(+2) + OI(+2), RET skipped
}

func TestLightFromScore(t *testing.T) {
	assert.Equal(t, domain.CascadeGreen, lightFromScore(1))
	assert.Equal(t, domain.CascadeYellow, lightFromScore(2))
	assert.Equal(t, domain.CascadeOrange, lightFromScore(4))
	assert.Equal(t, domain.CascadeRed, lightFromScore(6))
}

func TestQuality_Buckets(t *testing.T) {
	assert.Equal(t, domain.ReversalPoor, quality(0, 0, 0, 0, 35, 25))
	assert.Equal(t, domain.ReversalExcellent, quality(10, 40, 5, 10, 35, 25))
}
