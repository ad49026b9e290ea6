package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// SessionRepository persists trade sessions, the top-level scope that owns
// every position, order, and fill for a strategy run.
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a SessionRepository over the state DB.
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// StartNew ends any active session for the strategy and opens a fresh one,
// inside a single transaction so there is never a window with two active
// sessions for the same strategy.
func (r *SessionRepository) StartNew(ctx context.Context, strategyID int64, startingBalance decimal.Decimal, startedAt time.Time) (domain.TradeSession, error) {
	var created domain.TradeSession
	err := database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE trade_session SET is_active = 0, ended_at = ?
			WHERE strategy_id = ? AND is_active = 1`, startedAt.UnixMilli(), strategyID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO trade_session (strategy_id, starting_balance, current_balance, started_at, is_active)
			VALUES (?, ?, ?, ?, 1)`, strategyID, startingBalance.String(), startingBalance.String(), startedAt.UnixMilli())
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		created = domain.TradeSession{
			ID:              id,
			StrategyID:      strategyID,
			StartingBalance: startingBalance,
			CurrentBalance:  startingBalance,
			StartedAt:       startedAt,
			IsActive:        true,
		}
		return nil
	})
	return created, err
}

// End archives the strategy's active session in place, without opening a
// replacement. Used by the operator stop action, as distinct from
// StartNew's archive-and-replace used by start-new-session.
func (r *SessionRepository) End(ctx context.Context, strategyID int64, endedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE trade_session SET is_active = 0, ended_at = ?
		WHERE strategy_id = ? AND is_active = 1`, endedAt.UnixMilli(), strategyID)
	return err
}

// GetActive returns the currently active session for a strategy, if any.
func (r *SessionRepository) GetActive(ctx context.Context, strategyID int64) (*domain.TradeSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, strategy_id, starting_balance, current_balance, running_pnl, trade_count,
		       win_count, loss_count, started_at, ended_at, is_active
		FROM trade_session WHERE strategy_id = ? AND is_active = 1`, strategyID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// RecordTradeOutcome updates running balance/P&L counters after a position closes.
func (r *SessionRepository) RecordTradeOutcome(ctx context.Context, sessionID int64, currentBalance, runningPnL decimal.Decimal, won bool) error {
	if won {
		_, err := r.db.ExecContext(ctx, `
			UPDATE trade_session
			SET current_balance = ?, running_pnl = ?, trade_count = trade_count + 1, win_count = win_count + 1
			WHERE id = ?`, currentBalance.String(), runningPnL.String(), sessionID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE trade_session
		SET current_balance = ?, running_pnl = ?, trade_count = trade_count + 1, loss_count = loss_count + 1
		WHERE id = ?`, currentBalance.String(), runningPnL.String(), sessionID)
	return err
}

func scanSession(row *sql.Row) (*domain.TradeSession, error) {
	var (
		s                                              domain.TradeSession
		startBalStr, curBalStr, pnlStr                 string
		startedAtMs                                    int64
		endedAtMs                                       sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.StrategyID, &startBalStr, &curBalStr, &pnlStr, &s.TradeCount,
		&s.WinCount, &s.LossCount, &startedAtMs, &endedAtMs, &s.IsActive); err != nil {
		return nil, err
	}
	var err error
	if s.StartingBalance, err = moneys.Parse(startBalStr); err != nil {
		return nil, err
	}
	if s.CurrentBalance, err = moneys.Parse(curBalStr); err != nil {
		return nil, err
	}
	if s.RunningPnL, err = moneys.Parse(pnlStr); err != nil {
		return nil, err
	}
	s.StartedAt = time.UnixMilli(startedAtMs).UTC()
	if endedAtMs.Valid {
		t := time.UnixMilli(endedAtMs.Int64).UTC()
		s.EndedAt = &t
	}
	return &s, nil
}
