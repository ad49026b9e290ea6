package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// ErrPositionAlreadyOpen is returned by Open when the partial unique index
// on (session_id, symbol, side) WHERE is_open=1 already has a matching row —
// the storage-level enforcement of "at most one open position per slot."
var ErrPositionAlreadyOpen = errors.New("repository: position already open for session/symbol/side")

// PositionRepository persists the engine's open and historical positions.
type PositionRepository struct {
	db *database.DB
}

// NewPositionRepository creates a PositionRepository over the state DB.
func NewPositionRepository(db *database.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Open inserts a brand-new open position. Returns ErrPositionAlreadyOpen if
// one already exists for this (session, symbol, side).
func (r *PositionRepository) Open(ctx context.Context, p domain.Position) (domain.Position, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO position
			(session_id, symbol, side, quantity, average_entry_price, total_cost, leverage,
			 layers_filled, max_layers, reserved_risk_dollars, unrealized_pnl, opened_at, is_open)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.SessionID, p.Symbol, string(p.Side), p.Quantity.String(), p.AverageEntryPrice.String(),
		p.TotalCost.String(), p.Leverage, p.LayersFilled, p.MaxLayers,
		p.ReservedRiskDollars.String(), p.UnrealizedPnL.String(), p.OpenedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return domain.Position{}, ErrPositionAlreadyOpen
		}
		return domain.Position{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Position{}, err
	}
	p.ID = id
	p.IsOpen = true
	return p, nil
}

// GetOpen fetches the currently open position for (session, symbol, side), if any.
func (r *PositionRepository) GetOpen(ctx context.Context, key domain.PositionKey) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, symbol, side, quantity, average_entry_price, total_cost, leverage,
		       layers_filled, max_layers, reserved_risk_dollars, realized_pnl, unrealized_pnl,
		       opened_at, closed_at, is_open
		FROM position
		WHERE session_id = ? AND symbol = ? AND side = ? AND is_open = 1`,
		key.SessionID, key.Symbol, string(key.Side))
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// GetByID fetches a position by its primary key.
func (r *PositionRepository) GetByID(ctx context.Context, id int64) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, symbol, side, quantity, average_entry_price, total_cost, leverage,
		       layers_filled, max_layers, reserved_risk_dollars, realized_pnl, unrealized_pnl,
		       opened_at, closed_at, is_open
		FROM position WHERE id = ?`, id)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// AllOpen returns every open position for a session, used by the
// portfolio-limit gate, the exit monitor, protective reconciliation, and the
// operator surface.
func (r *PositionRepository) AllOpen(ctx context.Context, sessionID int64) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, symbol, side, quantity, average_entry_price, total_cost, leverage,
		       layers_filled, max_layers, reserved_risk_dollars, realized_pnl, unrealized_pnl,
		       opened_at, closed_at, is_open
		FROM position WHERE session_id = ? AND is_open = 1`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPositionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ApplyFill updates quantity, weighted-average entry price, total cost, and
// layer count after a new fill is recorded. The caller computes the new
// aggregate values (via moneys.WeightedAverage) and passes them in; this
// method just persists them atomically with the reserved-risk figure.
func (r *PositionRepository) ApplyFill(ctx context.Context, id int64, quantity, avgEntryPrice, totalCost, reservedRisk decimal.Decimal, layersFilled int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE position
		SET quantity = ?, average_entry_price = ?, total_cost = ?, reserved_risk_dollars = ?, layers_filled = ?
		WHERE id = ?`,
		quantity.String(), avgEntryPrice.String(), totalCost.String(), reservedRisk.String(), layersFilled, id)
	return err
}

// UpdateUnrealizedPnL updates the mark-to-market figure without touching fills.
func (r *PositionRepository) UpdateUnrealizedPnL(ctx context.Context, id int64, unrealized decimal.Decimal) error {
	_, err := r.db.ExecContext(ctx, `UPDATE position SET unrealized_pnl = ? WHERE id = ?`, unrealized.String(), id)
	return err
}

// Close marks a position closed with its final realized P&L.
func (r *PositionRepository) Close(ctx context.Context, id int64, realizedPnL decimal.Decimal, closedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE position SET is_open = 0, realized_pnl = ?, closed_at = ? WHERE id = ?`,
		realizedPnL.String(), closedAt.UnixMilli(), id)
	return err
}

func scanPosition(row *sql.Row) (*domain.Position, error)     { return scanPositionGeneric(row) }
func scanPositionRows(rows *sql.Rows) (*domain.Position, error) { return scanPositionGeneric(rows) }

func scanPositionGeneric(s rowScanner) (*domain.Position, error) {
	var (
		p                                                        domain.Position
		side                                                     string
		qtyStr, avgPriceStr, totalCostStr, reservedStr, unrealStr string
		realizedStr                                              sql.NullString
		openedAtMs                                                int64
		closedAtMs                                                sql.NullInt64
	)
	if err := s.Scan(&p.ID, &p.SessionID, &p.Symbol, &side, &qtyStr, &avgPriceStr, &totalCostStr,
		&p.Leverage, &p.LayersFilled, &p.MaxLayers, &reservedStr, &realizedStr, &unrealStr,
		&openedAtMs, &closedAtMs, &p.IsOpen); err != nil {
		return nil, err
	}
	p.Side = domain.Side(side)

	var err error
	if p.Quantity, err = moneys.Parse(qtyStr); err != nil {
		return nil, err
	}
	if p.AverageEntryPrice, err = moneys.Parse(avgPriceStr); err != nil {
		return nil, err
	}
	if p.TotalCost, err = moneys.Parse(totalCostStr); err != nil {
		return nil, err
	}
	if p.ReservedRiskDollars, err = moneys.Parse(reservedStr); err != nil {
		return nil, err
	}
	if p.UnrealizedPnL, err = moneys.Parse(unrealStr); err != nil {
		return nil, err
	}
	if realizedStr.Valid {
		v, err := moneys.Parse(realizedStr.String)
		if err != nil {
			return nil, err
		}
		p.RealizedPnL = &v
	}
	p.OpenedAt = time.UnixMilli(openedAtMs).UTC()
	if closedAtMs.Valid {
		t := time.UnixMilli(closedAtMs.Int64).UTC()
		p.ClosedAt = &t
	}
	return &p, nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations with this substring,
	// mirroring the SQLITE_CONSTRAINT_UNIQUE text the CGO driver also uses.
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
