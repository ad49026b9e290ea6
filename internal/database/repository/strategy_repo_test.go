package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/domain"
)

func TestStrategyRepository_GetActive_ReturnsDefaultRow(t *testing.T) {
	ctx := context.Background()
	db := newStateTestDB(t)
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT INTO strategy (created_at, updated_at, is_active) VALUES (?, ?, 1)`,
		now.UnixMilli(), now.UnixMilli())
	require.NoError(t, err)

	repo := NewStrategyRepository(db)
	s, err := repo.GetActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, 3, s.MaxLayers)
	require.Equal(t, domain.MarginModeIsolated, s.MarginMode)
	require.True(t, s.HedgeMode)
}

func TestStrategyRepository_Update_RoundTripsFields(t *testing.T) {
	ctx := context.Background()
	db := newStateTestDB(t)
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT INTO strategy (created_at, updated_at, is_active) VALUES (?, ?, 1)`,
		now.UnixMilli(), now.UnixMilli())
	require.NoError(t, err)

	repo := NewStrategyRepository(db)
	s, err := repo.GetActive(ctx)
	require.NoError(t, err)

	s.SelectedAssets = []string{"BTCUSDT", "ETHUSDT"}
	s.MaxLayers = 5
	s.Paused = true
	require.NoError(t, repo.Update(ctx, *s, now))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, got.SelectedAssets)
	require.Equal(t, 5, got.MaxLayers)
	require.True(t, got.Paused)
}

func TestStrategyRepository_SetPaused(t *testing.T) {
	ctx := context.Background()
	db := newStateTestDB(t)
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT INTO strategy (created_at, updated_at, is_active) VALUES (?, ?, 1)`,
		now.UnixMilli(), now.UnixMilli())
	require.NoError(t, err)

	repo := NewStrategyRepository(db)
	s, err := repo.GetActive(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.SetPaused(ctx, s.ID, true, now))
	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, got.Paused)
}
