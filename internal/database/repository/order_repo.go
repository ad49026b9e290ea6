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

// OrderRepository persists venue orders placed by the engine.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates an OrderRepository over the ledger DB.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert records a newly submitted order and assigns its ID.
func (r *OrderRepository) Insert(ctx context.Context, o domain.Order) (domain.Order, error) {
	var priceStr sql.NullString
	if o.Price != nil {
		priceStr = sql.NullString{String: o.Price.String(), Valid: true}
	}
	var protKind sql.NullString
	if o.ProtectiveKind != nil {
		protKind = sql.NullString{String: string(*o.ProtectiveKind), Valid: true}
	}
	var positionID sql.NullInt64
	if o.PositionID != nil {
		positionID = sql.NullInt64{Int64: *o.PositionID, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO orders
			(venue_order_id, session_id, symbol, side, order_type, price, quantity, status,
			 reduce_only, protective_kind, layer, position_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.VenueOrderID, o.SessionID, o.Symbol, string(o.Side), string(o.Type),
		priceStr, o.Quantity.String(), string(o.Status), o.ReduceOnly, protKind,
		o.Layer, positionID, o.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return domain.Order{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Order{}, err
	}
	o.ID = id
	return o, nil
}

// UpdateStatus transitions an order's status, stamping filled_at when filled.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus, filledAt *time.Time) error {
	var filledAtMs sql.NullInt64
	if filledAt != nil {
		filledAtMs = sql.NullInt64{Int64: filledAt.UnixMilli(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ?, filled_at = ? WHERE id = ?`,
		string(status), filledAtMs, id)
	return err
}

// GetByVenueOrderID fetches an order by (venue_order_id, session_id).
func (r *OrderRepository) GetByVenueOrderID(ctx context.Context, venueOrderID string, sessionID int64) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, venue_order_id, session_id, symbol, side, order_type, price, quantity, status,
		       reduce_only, protective_kind, layer, position_id, created_at, filled_at
		FROM orders WHERE venue_order_id = ? AND session_id = ?`, venueOrderID, sessionID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// OpenProtectiveOrders returns pending protective (TP/SL) orders for a position.
func (r *OrderRepository) OpenProtectiveOrders(ctx context.Context, positionID int64) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, venue_order_id, session_id, symbol, side, order_type, price, quantity, status,
		       reduce_only, protective_kind, layer, position_id, created_at, filled_at
		FROM orders
		WHERE position_id = ? AND protective_kind IS NOT NULL AND status = 'pending'`, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// PendingNonProtective returns a session's pending orders that are not
// protective (TP/SL) — the set the operator stop action cancels, leaving
// protective orders in place so the venue can still close positions.
func (r *OrderRepository) PendingNonProtective(ctx context.Context, sessionID int64) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, venue_order_id, session_id, symbol, side, order_type, price, quantity, status,
		       reduce_only, protective_kind, layer, position_id, created_at, filled_at
		FROM orders
		WHERE session_id = ? AND protective_kind IS NULL AND status = 'pending'`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrder(row *sql.Row) (*domain.Order, error)   { return scanOrderGeneric(row) }
func scanOrderRows(rows *sql.Rows) (*domain.Order, error) { return scanOrderGeneric(rows) }

func scanOrderGeneric(s rowScanner) (*domain.Order, error) {
	var (
		o                        domain.Order
		side, orderType, status  string
		priceStr                 sql.NullString
		qtyStr                   string
		protKind                 sql.NullString
		positionID               sql.NullInt64
		createdAtMs              int64
		filledAtMs               sql.NullInt64
	)
	if err := s.Scan(&o.ID, &o.VenueOrderID, &o.SessionID, &o.Symbol, &side, &orderType, &priceStr,
		&qtyStr, &status, &o.ReduceOnly, &protKind, &o.Layer, &positionID, &createdAtMs, &filledAtMs); err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)

	qty, err := moneys.Parse(qtyStr)
	if err != nil {
		return nil, err
	}
	o.Quantity = qty

	if priceStr.Valid {
		p, err := moneys.Parse(priceStr.String)
		if err != nil {
			return nil, err
		}
		o.Price = &p
	}
	if protKind.Valid {
		k := domain.ProtectiveKind(protKind.String)
		o.ProtectiveKind = &k
	}
	if positionID.Valid {
		o.PositionID = &positionID.Int64
	}
	o.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	if filledAtMs.Valid {
		t := time.UnixMilli(filledAtMs.Int64).UTC()
		o.FilledAt = &t
	}
	return &o, nil
}
