package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository_StartNew_EndsPriorActiveSession(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newStateTestDB(t))

	first, err := repo.StartNew(ctx, 1, decimal.RequireFromString("10000"), time.Now().UTC())
	require.NoError(t, err)
	require.True(t, first.IsActive)

	second, err := repo.StartNew(ctx, 1, decimal.RequireFromString("9500"), time.Now().UTC())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	active, err := repo.GetActive(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, second.ID, active.ID)
}

func TestSessionRepository_RecordTradeOutcome(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(newStateTestDB(t))

	s, err := repo.StartNew(ctx, 1, decimal.RequireFromString("10000"), time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, repo.RecordTradeOutcome(ctx, s.ID, decimal.RequireFromString("10100"), decimal.RequireFromString("100"), true))

	active, err := repo.GetActive(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, active.TradeCount)
	require.Equal(t, 1, active.WinCount)
	require.Equal(t, 0, active.LossCount)
	require.True(t, active.CurrentBalance.Equal(decimal.RequireFromString("10100")))
}
