package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/moneys"
)

// IncomeRepository mirrors the venue's income stream (realized P&L,
// commission, funding) for the historical-rebuild reconciliation job.
type IncomeRepository struct {
	db *database.DB
}

// NewIncomeRepository creates an IncomeRepository over the state DB.
func NewIncomeRepository(db *database.DB) *IncomeRepository {
	return &IncomeRepository{db: db}
}

// Upsert inserts an income record, or is a silent no-op if venue_id already
// exists — pagination windows in the historical rebuild overlap by design,
// so duplicates are expected, not exceptional.
func (r *IncomeRepository) Upsert(ctx context.Context, rec domain.IncomeRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO income_mirror (venue_id, symbol, income_type, amount, venue_time, imported_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(venue_id) DO NOTHING`,
		rec.VenueID, rec.Symbol, string(rec.Type), rec.Amount.String(),
		rec.VenueTime.UnixMilli(), rec.ImportedAt.UnixMilli())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// IncomeSum is the total and count of income rows matched by a query.
type IncomeSum struct {
	Value decimal.Decimal
	Count int
}

// SumByTypeSince totals income of a given type since a cutoff. No engine
// component calls it to check the session's running P&L.
func (r *IncomeRepository) SumByTypeSince(ctx context.Context, incomeType domain.IncomeRecordType, since time.Time) (IncomeSum, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT amount FROM income_mirror WHERE income_type = ? AND venue_time >= ?`,
		string(incomeType), since.UnixMilli())
	if err != nil {
		return IncomeSum{}, err
	}
	defer rows.Close()

	sum := IncomeSum{Value: decimal.Zero}
	for rows.Next() {
		var amountStr string
		if err := rows.Scan(&amountStr); err != nil {
			return IncomeSum{}, err
		}
		v, err := moneys.Parse(amountStr)
		if err != nil {
			return IncomeSum{}, err
		}
		sum.Value = sum.Value.Add(v)
		sum.Count++
	}
	return sum, rows.Err()
}

// MostRecentVenueTime returns the latest venue_time recorded, used as the
// starting cursor for the next historical-rebuild pagination window.
func (r *IncomeRepository) MostRecentVenueTime(ctx context.Context) (*time.Time, error) {
	var ms sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MAX(venue_time) FROM income_mirror`).Scan(&ms)
	if err != nil {
		return nil, err
	}
	if !ms.Valid {
		return nil, nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t, nil
}

// EarliestVenueTime returns the oldest venue_time recorded. No engine
// component or operator route calls it, and the result is not cached.
func (r *IncomeRepository) EarliestVenueTime(ctx context.Context) (*time.Time, error) {
	var ms sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT MIN(venue_time) FROM income_mirror`).Scan(&ms)
	if err != nil {
		return nil, err
	}
	if !ms.Valid {
		return nil, nil
	}
	t := time.UnixMilli(ms.Int64).UTC()
	return &t, nil
}
