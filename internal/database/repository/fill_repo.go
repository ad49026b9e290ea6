package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// FillRepository persists executed trades. (VenueTradeID, SessionID) is the
// idempotency key enforced by the ledger schema's unique index.
type FillRepository struct {
	db *database.DB
}

// NewFillRepository creates a FillRepository over the ledger DB.
func NewFillRepository(db *database.DB) *FillRepository {
	return &FillRepository{db: db}
}

// InsertOrGet inserts a fill, or returns the existing row if
// (venue_trade_id, session_id) already exists. The caller uses the inserted
// flag to decide whether to re-apply the fill to position state.
func (r *FillRepository) InsertOrGet(ctx context.Context, f domain.Fill) (domain.Fill, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO fills
			(venue_trade_id, order_id, position_id, session_id, symbol, side, quantity, price,
			 notional, commission, layer, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue_trade_id, session_id) DO NOTHING`,
		f.VenueTradeID, f.OrderID, f.PositionID, f.SessionID, f.Symbol, string(f.Side),
		f.Quantity.String(), f.Price.String(), f.Notional.String(), f.Commission.String(),
		f.Layer, f.FilledAt.UnixMilli(),
	)
	if err != nil {
		return domain.Fill{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Fill{}, false, err
	}
	if affected == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Fill{}, false, err
		}
		f.ID = id
		return f, true, nil
	}

	existing, err := r.GetByVenueTradeID(ctx, f.VenueTradeID, f.SessionID)
	if err != nil {
		return domain.Fill{}, false, err
	}
	return *existing, false, nil
}

// GetByVenueTradeID fetches a fill by its idempotency key.
func (r *FillRepository) GetByVenueTradeID(ctx context.Context, venueTradeID string, sessionID int64) (*domain.Fill, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, venue_trade_id, order_id, position_id, session_id, symbol, side, quantity,
		       price, notional, commission, layer, filled_at
		FROM fills WHERE venue_trade_id = ? AND session_id = ?`, venueTradeID, sessionID)
	f, err := scanFill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return f, err
}

// ByPosition returns every fill recorded against a position, oldest first.
func (r *FillRepository) ByPosition(ctx context.Context, positionID int64) ([]domain.Fill, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, venue_trade_id, order_id, position_id, session_id, symbol, side, quantity,
		       price, notional, commission, layer, filled_at
		FROM fills WHERE position_id = ? ORDER BY filled_at ASC`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		f, err := scanFillRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFill(row *sql.Row) (*domain.Fill, error)     { return scanFillGeneric(row) }
func scanFillRows(rows *sql.Rows) (*domain.Fill, error) { return scanFillGeneric(rows) }

func scanFillGeneric(s rowScanner) (*domain.Fill, error) {
	var (
		f                                         domain.Fill
		side                                       string
		qtyStr, priceStr, notionalStr, commStr     string
		filledAtMs                                 int64
	)
	if err := s.Scan(&f.ID, &f.VenueTradeID, &f.OrderID, &f.PositionID, &f.SessionID, &f.Symbol,
		&side, &qtyStr, &priceStr, &notionalStr, &commStr, &f.Layer, &filledAtMs); err != nil {
		return nil, err
	}
	f.Side = domain.OrderSide(side)

	var err error
	if f.Quantity, err = moneys.Parse(qtyStr); err != nil {
		return nil, err
	}
	if f.Price, err = moneys.Parse(priceStr); err != nil {
		return nil, err
	}
	if f.Notional, err = moneys.Parse(notionalStr); err != nil {
		return nil, err
	}
	if f.Commission, err = moneys.Parse(commStr); err != nil {
		return nil, err
	}
	f.FilledAt = time.UnixMilli(filledAtMs).UTC()
	return &f, nil
}
