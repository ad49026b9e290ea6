package repository

import (
	"context"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
)

// TradeEntryErrorRepository records permanent venue rejections and
// invariant breaks encountered while evaluating or executing an entry.
type TradeEntryErrorRepository struct {
	db *database.DB
}

// NewTradeEntryErrorRepository creates a TradeEntryErrorRepository over the ledger DB.
func NewTradeEntryErrorRepository(db *database.DB) *TradeEntryErrorRepository {
	return &TradeEntryErrorRepository{db: db}
}

// Record persists one trade entry error for operator review.
func (r *TradeEntryErrorRepository) Record(ctx context.Context, e domain.TradeEntryError) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trade_entry_errors (symbol, side, reason, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Symbol, string(e.Side), e.Reason, e.Payload, e.CreatedAt.UnixMilli())
	return err
}
