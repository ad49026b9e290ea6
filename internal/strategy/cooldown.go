package strategy

import (
	"sync"
	"time"

	"github.com/vantapoint/liqengine/internal/domain"
)

// cooldownTracker enforces the minimum spacing between same (symbol, side)
// entries or layers. It is armed only once a decision clears the percentile
// gate — a liquidation that never reaches that gate leaves cooldown
// untouched, so a quiet run of small liquidations can't itself block a later
// large one.
type cooldownTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{last: make(map[string]time.Time)}
}

func cooldownKey(symbol string, side domain.Side) string {
	return symbol + "|" + string(side)
}

func (c *cooldownTracker) within(symbol string, side domain.Side, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[cooldownKey(symbol, side)]
	if !ok {
		return false
	}
	return now.Sub(last) < window
}

func (c *cooldownTracker) arm(symbol string, side domain.Side, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[cooldownKey(symbol, side)] = now
}
