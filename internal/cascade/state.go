package cascade

import (
	"sync"
	"time"

	"github.com/vantapoint/liqengine/internal/domain"
)

const (
	notionalWindowSize = 60
	returnWindowSize   = 60
	oiWindowSize       = 300
)

type oiSample struct {
	value float64
	at    time.Time
}

// symbolState is the per-symbol mutable window set plus hysteresis counters.
// One instance per tracked symbol, guarded by its own mutex so a slow OI
// fetch for one symbol never blocks bookkeeping for another.
type symbolState struct {
	mu sync.Mutex

	longNotional  *ringBuffer[float64]
	shortNotional *ringBuffer[float64]
	returns       *ringBuffer[float64]
	oiSnapshots   *ringBuffer[oiSample]

	lastPrice    float64
	lastOIUpdate time.Time

	currentLight      domain.CascadeLight
	belowBandTicks    int
	lastSnapshot      domain.CascadeSnapshot
	haveFirstSnapshot bool
}

func newSymbolState() *symbolState {
	return &symbolState{
		longNotional:  newRingBuffer[float64](notionalWindowSize),
		shortNotional: newRingBuffer[float64](notionalWindowSize),
		returns:       newRingBuffer[float64](returnWindowSize),
		oiSnapshots:   newRingBuffer[oiSample](oiWindowSize),
		currentLight:  domain.CascadeGreen,
	}
}

// recordLiquidation appends one liquidation's notional into the window for
// its liquidated side.
func (s *symbolState) recordLiquidation(side domain.Side, notional float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == domain.SideLong {
		s.longNotional.Push(notional)
	} else {
		s.shortNotional.Push(notional)
	}
}

// recordPrice appends a per-tick return computed against the previous tick's
// price, and remembers the new price as the reference for the next tick.
func (s *symbolState) recordPrice(price float64) (lastReturn float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPrice > 0 {
		lastReturn = (price - s.lastPrice) / s.lastPrice
		s.returns.Push(lastReturn)
	}
	s.lastPrice = price
	return lastReturn
}

// recordOI appends a fresh open-interest snapshot and stamps the update time
// used to order the next tick's rotation.
func (s *symbolState) recordOI(value float64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oiSnapshots.Push(oiSample{value: value, at: at})
	s.lastOIUpdate = at
}

func (s *symbolState) oiAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastOIUpdate.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(s.lastOIUpdate)
}
