package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/domain"
)

func TestIncomeRepository_Upsert_DeduplicatesByVenueID(t *testing.T) {
	ctx := context.Background()
	repo := NewIncomeRepository(newStateTestDB(t))

	rec := domain.IncomeRecord{
		VenueID:    "income-1",
		Symbol:     "BTCUSDT",
		Type:       domain.IncomeRealizedPnL,
		Amount:     decimal.RequireFromString("42.5"),
		VenueTime:  time.Now().UTC(),
		ImportedAt: time.Now().UTC(),
	}
	inserted, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	insertedAgain, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)
	require.False(t, insertedAgain)
}

func TestIncomeRepository_SumByTypeSince(t *testing.T) {
	ctx := context.Background()
	repo := NewIncomeRepository(newStateTestDB(t))

	now := time.Now().UTC()
	_, err := repo.Upsert(ctx, domain.IncomeRecord{
		VenueID: "a", Symbol: "BTCUSDT", Type: domain.IncomeRealizedPnL,
		Amount: decimal.RequireFromString("10"), VenueTime: now, ImportedAt: now,
	})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, domain.IncomeRecord{
		VenueID: "b", Symbol: "BTCUSDT", Type: domain.IncomeRealizedPnL,
		Amount: decimal.RequireFromString("15"), VenueTime: now, ImportedAt: now,
	})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, domain.IncomeRecord{
		VenueID: "c", Symbol: "BTCUSDT", Type: domain.IncomeCommission,
		Amount: decimal.RequireFromString("-1"), VenueTime: now, ImportedAt: now,
	})
	require.NoError(t, err)

	sum, err := repo.SumByTypeSince(ctx, domain.IncomeRealizedPnL, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, sum.Count)
	require.True(t, sum.Value.Equal(decimal.RequireFromString("25")))
}

func TestIncomeRepository_MostRecentVenueTime_NilWhenEmpty(t *testing.T) {
	ctx := context.Background()
	repo := NewIncomeRepository(newStateTestDB(t))

	got, err := repo.MostRecentVenueTime(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
}
