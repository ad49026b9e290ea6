// Package repository implements the SQL access layer over the ledger and
// state databases: database/sql, hand-written queries, decimal fields
// stored as TEXT.
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

// LiquidationRepository persists and queries liquidation events.
type LiquidationRepository struct {
	db *database.DB
}

// NewLiquidationRepository creates a LiquidationRepository over the ledger DB.
func NewLiquidationRepository(db *database.DB) *LiquidationRepository {
	return &LiquidationRepository{db: db}
}

// InsertOrGet inserts a liquidation, or returns the existing row if
// venue_event_id already exists. A unique-constraint conflict here is not an
// error: the operator may have restarted between seeing the event and
// persisting it, so a conflict just means "already durable, keep going."
func (r *LiquidationRepository) InsertOrGet(ctx context.Context, l domain.Liquidation) (domain.Liquidation, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO liquidations
			(venue_event_id, symbol, liquidated_side, quantity, price, notional, venue_timestamp, ingest_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue_event_id) DO NOTHING`,
		l.VenueEventID, l.Symbol, string(l.LiquidatedSide),
		l.Quantity.String(), l.Price.String(), l.Notional.String(),
		l.VenueTimestamp.UnixMilli(), l.IngestTimestamp.UnixMilli(),
	)
	if err != nil {
		return domain.Liquidation{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Liquidation{}, false, err
	}
	if affected == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Liquidation{}, false, err
		}
		l.ID = id
		return l, true, nil
	}

	existing, err := r.GetByVenueEventID(ctx, l.VenueEventID)
	if err != nil {
		return domain.Liquidation{}, false, err
	}
	return *existing, false, nil
}

// GetByVenueEventID fetches a liquidation by its venue event identifier.
func (r *LiquidationRepository) GetByVenueEventID(ctx context.Context, venueEventID string) (*domain.Liquidation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, venue_event_id, symbol, liquidated_side, quantity, price, notional, venue_timestamp, ingest_timestamp
		FROM liquidations WHERE venue_event_id = ?`, venueEventID)
	l, err := scanLiquidation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return l, err
}

// RecentBySymbol returns all liquidations for symbol within [since, now], the
// rolling window the percentile gate reads.
func (r *LiquidationRepository) RecentBySymbol(ctx context.Context, symbol string, since time.Time) ([]domain.Liquidation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, venue_event_id, symbol, liquidated_side, quantity, price, notional, venue_timestamp, ingest_timestamp
		FROM liquidations
		WHERE symbol = ? AND venue_timestamp >= ?
		ORDER BY venue_timestamp ASC`, symbol, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Liquidation
	for rows.Next() {
		l, err := scanLiquidationRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DeleteOlderThan deletes liquidations whose ingest timestamp is older than
// cutoff, implementing the retention sweep that keeps the ledger bounded.
func (r *LiquidationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM liquidations WHERE ingest_timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLiquidation(row *sql.Row) (*domain.Liquidation, error) {
	return scanLiquidationGeneric(row)
}

func scanLiquidationRows(rows *sql.Rows) (*domain.Liquidation, error) {
	return scanLiquidationGeneric(rows)
}

func scanLiquidationGeneric(s rowScanner) (*domain.Liquidation, error) {
	var (
		l                                 domain.Liquidation
		side                               string
		qtyStr, priceStr, notionalStr      string
		venueTsMs, ingestTsMs              int64
	)
	if err := s.Scan(&l.ID, &l.VenueEventID, &l.Symbol, &side, &qtyStr, &priceStr, &notionalStr, &venueTsMs, &ingestTsMs); err != nil {
		return nil, err
	}
	l.LiquidatedSide = domain.Side(side)

	var err error
	if l.Quantity, err = moneys.Parse(qtyStr); err != nil {
		return nil, err
	}
	if l.Price, err = moneys.Parse(priceStr); err != nil {
		return nil, err
	}
	if l.Notional, err = moneys.Parse(notionalStr); err != nil {
		return nil, err
	}
	l.VenueTimestamp = time.UnixMilli(venueTsMs).UTC()
	l.IngestTimestamp = time.UnixMilli(ingestTsMs).UTC()
	return &l, nil
}
