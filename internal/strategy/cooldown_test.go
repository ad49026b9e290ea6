package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/domain"
)

func TestCooldownTracker_WithinFalseBeforeFirstArm(t *testing.T) {
	c := newCooldownTracker()
	require.False(t, c.within("BTCUSDT", domain.SideShort, time.Now(), time.Minute))
}

func TestCooldownTracker_WithinTrueImmediatelyAfterArm(t *testing.T) {
	c := newCooldownTracker()
	now := time.Now()
	c.arm("BTCUSDT", domain.SideShort, now)
	require.True(t, c.within("BTCUSDT", domain.SideShort, now.Add(time.Second), time.Minute))
}

func TestCooldownTracker_WithinFalseAfterWindowElapses(t *testing.T) {
	c := newCooldownTracker()
	now := time.Now()
	c.arm("BTCUSDT", domain.SideShort, now)
	require.False(t, c.within("BTCUSDT", domain.SideShort, now.Add(2*time.Minute), time.Minute))
}

func TestCooldownTracker_SymbolsAreIndependent(t *testing.T) {
	c := newCooldownTracker()
	now := time.Now()
	c.arm("BTCUSDT", domain.SideShort, now)
	require.False(t, c.within("ETHUSDT", domain.SideShort, now, time.Minute))
}

func TestCooldownTracker_SidesAreIndependent(t *testing.T) {
	c := newCooldownTracker()
	now := time.Now()
	c.arm("BTCUSDT", domain.SideShort, now)
	require.False(t, c.within("BTCUSDT", domain.SideLong, now, time.Minute))
}
