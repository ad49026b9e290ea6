package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
)

// StrategyChangeRepository records an audit trail of every strategy mutation.
type StrategyChangeRepository struct {
	db *database.DB
}

// NewStrategyChangeRepository creates a StrategyChangeRepository over the ledger DB.
func NewStrategyChangeRepository(db *database.DB) *StrategyChangeRepository {
	return &StrategyChangeRepository{db: db}
}

// Record inserts one audit entry capturing a strategy mutation's before/after state.
func (r *StrategyChangeRepository) Record(ctx context.Context, c domain.StrategyChange) (domain.StrategyChange, error) {
	var sessionID sql.NullInt64
	if c.SessionID != nil {
		sessionID = sql.NullInt64{Int64: *c.SessionID, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO strategy_changes (strategy_id, session_id, before_values, after_values, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		c.StrategyID, sessionID, c.BeforeValues, c.AfterValues, c.ChangedAt.UnixMilli())
	if err != nil {
		return domain.StrategyChange{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.StrategyChange{}, err
	}
	c.ID = id
	return c, nil
}

// RecentForStrategy returns the most recent audit entries for a strategy, newest first.
func (r *StrategyChangeRepository) RecentForStrategy(ctx context.Context, strategyID int64, limit int) ([]domain.StrategyChange, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, strategy_id, session_id, before_values, after_values, changed_at
		FROM strategy_changes WHERE strategy_id = ? ORDER BY changed_at DESC LIMIT ?`, strategyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StrategyChange
	for rows.Next() {
		var (
			c          domain.StrategyChange
			sessionID  sql.NullInt64
			changedAt  int64
		)
		if err := rows.Scan(&c.ID, &c.StrategyID, &sessionID, &c.BeforeValues, &c.AfterValues, &changedAt); err != nil {
			return nil, err
		}
		if sessionID.Valid {
			c.SessionID = &sessionID.Int64
		}
		c.ChangedAt = time.UnixMilli(changedAt).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
