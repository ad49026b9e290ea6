package cascade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vantapoint/liqengine/internal/domain"
)

func TestSymbolState_RecordLiquidation_SplitsBySide(t *testing.T) {
	st := newSymbolState()
	st.recordLiquidation(domain.SideLong, 100)
	st.recordLiquidation(domain.SideShort, 50)

	assert.Equal(t, []float64{100}, st.longNotional.Items())
	assert.Equal(t, []float64{50}, st.shortNotional.Items())
}

func TestSymbolState_RecordPrice_FirstCallHasNoReturn(t *testing.T) {
	st := newSymbolState()
	ret := st.recordPrice(100)
	assert.Equal(t, 0.0, ret)
	assert.Empty(t, st.returns.Items())
}

func TestSymbolState_RecordPrice_ComputesReturnAgainstPrevious(t *testing.T) {
	st := newSymbolState()
	st.recordPrice(100)
	ret := st.recordPrice(110)
	assert.InDelta(t, 0.1, ret, 1e-9)
	assert.Equal(t, []float64{0.1}, st.returns.Items())
}

func TestSymbolState_OIAge_NeverUpdatedIsEffectivelyInfinite(t *testing.T) {
	st := newSymbolState()
	assert.Greater(t, st.oiAge(time.Now()), 365*24*time.Hour)
}

func TestSymbolState_OIAge_ReflectsLastUpdate(t *testing.T) {
	st := newSymbolState()
	now := time.Now()
	st.recordOI(1000, now)
	assert.InDelta(t, 0, st.oiAge(now).Seconds(), 0.01)

	later := now.Add(30 * time.Second)
	assert.InDelta(t, 30, st.oiAge(later).Seconds(), 0.01)
}
