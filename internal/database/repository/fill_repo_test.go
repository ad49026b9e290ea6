package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/domain"
)

func sampleFill(venueTradeID string, sessionID, orderID, positionID int64) domain.Fill {
	return domain.Fill{
		VenueTradeID: venueTradeID,
		OrderID:      orderID,
		PositionID:   positionID,
		SessionID:    sessionID,
		Symbol:       "BTCUSDT",
		Side:         domain.OrderSideBuy,
		Quantity:     decimal.RequireFromString("0.1"),
		Price:        decimal.RequireFromString("60000"),
		Notional:     decimal.RequireFromString("6000"),
		Commission:   decimal.RequireFromString("2.4"),
		Layer:        1,
		FilledAt:     time.Now().UTC(),
	}
}

func TestFillRepository_InsertOrGet_IdempotentByTradeAndSession(t *testing.T) {
	ctx := context.Background()
	repo := NewFillRepository(newLedgerTestDB(t))

	f := sampleFill("trade-1", 1, 10, 100)
	inserted, wasNew, err := repo.InsertOrGet(ctx, f)
	require.NoError(t, err)
	require.True(t, wasNew)

	again, wasNew2, err := repo.InsertOrGet(ctx, f)
	require.NoError(t, err)
	require.False(t, wasNew2)
	require.Equal(t, inserted.ID, again.ID)
}

func TestFillRepository_SameTradeDifferentSession_NotDeduped(t *testing.T) {
	ctx := context.Background()
	repo := NewFillRepository(newLedgerTestDB(t))

	f1 := sampleFill("trade-shared", 1, 10, 100)
	f2 := sampleFill("trade-shared", 2, 11, 101)

	_, wasNew1, err := repo.InsertOrGet(ctx, f1)
	require.NoError(t, err)
	require.True(t, wasNew1)

	_, wasNew2, err := repo.InsertOrGet(ctx, f2)
	require.NoError(t, err)
	require.True(t, wasNew2)
}

func TestFillRepository_ByPosition_OrdersByFilledAt(t *testing.T) {
	ctx := context.Background()
	repo := NewFillRepository(newLedgerTestDB(t))

	first := sampleFill("trade-a", 1, 10, 100)
	first.FilledAt = time.Now().UTC().Add(-time.Minute)
	second := sampleFill("trade-b", 1, 11, 100)
	second.FilledAt = time.Now().UTC()

	_, _, err := repo.InsertOrGet(ctx, first)
	require.NoError(t, err)
	_, _, err = repo.InsertOrGet(ctx, second)
	require.NoError(t, err)

	out, err := repo.ByPosition(ctx, 100)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "trade-a", out[0].VenueTradeID)
	require.Equal(t, "trade-b", out[1].VenueTradeID)
}
