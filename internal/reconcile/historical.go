package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
)

// RebuildHistory paginates the venue's realized-P&L income stream forward in
// 7-day windows, creating one closed position per settled event. It also
// mirrors every income row (realized P&L, commission, funding, transfer)
// into the local ledger so commission/funding totals can be summed without
// re-fetching, and advances the cursor to the newest event's timestamp plus
// one millisecond after every full page. Re-running after completion
// inserts nothing new: every write is keyed by the venue's own trade
// identifier.
func (m *Manager) RebuildHistory(ctx context.Context) error {
	strategy, session, err := m.activeContext(ctx)
	if err != nil || strategy == nil || session == nil {
		return err
	}

	cursor, err := m.startCursor(ctx)
	if err != nil {
		return err
	}
	now := m.clock()

	for {
		windowEnd := cursor.Add(historicalWindow)
		if windowEnd.After(now) {
			windowEnd = now
		}

		events, err := m.exchange.GetIncome(ctx, "", cursor, windowEnd, historicalPageSize)
		if err != nil {
			return err
		}
		for _, evt := range events {
			if err := m.applyIncomeEvent(ctx, strategy, session, evt); err != nil {
				m.log.Error().Err(err).Str("venue_id", evt.VenueID).Msg("failed to apply income event")
			}
		}

		if len(events) < historicalPageSize {
			if windowEnd.Equal(now) || windowEnd.After(now) {
				return nil
			}
			cursor = windowEnd
			continue
		}

		cursor = newestTimestamp(events).Add(time.Millisecond)
	}
}

func (m *Manager) startCursor(ctx context.Context) (time.Time, error) {
	latest, err := m.income.MostRecentVenueTime(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil {
		return time.Unix(0, 0).UTC(), nil
	}
	return latest.Add(time.Millisecond), nil
}

func newestTimestamp(events []domain.VenueIncome) time.Time {
	var newest time.Time
	for _, e := range events {
		if e.Time.After(newest) {
			newest = e.Time
		}
	}
	return newest
}

func (m *Manager) applyIncomeEvent(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, evt domain.VenueIncome) error {
	kind := incomeRecordType(evt.Type)

	inserted, err := m.income.Upsert(ctx, domain.IncomeRecord{
		VenueID:    evt.VenueID,
		Symbol:     evt.Symbol,
		Type:       kind,
		Amount:     evt.Income,
		VenueTime:  evt.Time,
		ImportedAt: m.clock(),
	})
	if err != nil {
		return err
	}
	if !inserted || kind != domain.IncomeRealizedPnL {
		return nil
	}
	return m.materializeClosedPosition(ctx, strategy, session, evt)
}

// materializeClosedPosition creates one already-closed position for a
// settled realized-P&L event. The event carries no quantity or entry price —
// only a settled amount — so the position it materializes records the
// realized figure with a zero size rather than inventing execution detail
// the venue never reported. Idempotency is checked against the synthetic
// order identifier before any row is written, since the open-then-close
// sequence below has no other natural replay guard.
func (m *Manager) materializeClosedPosition(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, evt domain.VenueIncome) error {
	venueOrderID := "sync-pnl-" + evt.VenueID
	if existing, err := m.orders.GetByVenueOrderID(ctx, venueOrderID, session.ID); err != nil || existing != nil {
		return err
	}

	side := domain.SideLong
	if evt.Income.IsNegative() {
		side = domain.SideShort
	}

	pos, err := m.positions.Open(ctx, domain.Position{
		SessionID: session.ID, Symbol: evt.Symbol, Side: side,
		Quantity: decimal.Zero, AverageEntryPrice: decimal.Zero, TotalCost: decimal.Zero,
		Leverage: strategy.Leverage, MaxLayers: strategy.MaxLayers, LayersFilled: 1,
		OpenedAt: evt.Time,
	})
	if err != nil {
		return err
	}

	order, err := m.orders.Insert(ctx, domain.Order{
		VenueOrderID: venueOrderID,
		SessionID:    session.ID,
		Symbol:       evt.Symbol,
		Side:         side.EntryOrderSide(),
		Type:         domain.OrderTypeMarket,
		Quantity:     decimal.Zero,
		Status:       domain.OrderStatusFilled,
		Layer:        1,
		PositionID:   &pos.ID,
		CreatedAt:    evt.Time,
	})
	if err != nil {
		return err
	}

	if _, _, err := m.fills.InsertOrGet(ctx, domain.Fill{
		VenueTradeID: evt.VenueID,
		OrderID:      order.ID,
		PositionID:   pos.ID,
		SessionID:    session.ID,
		Symbol:       evt.Symbol,
		Side:         side.EntryOrderSide(),
		Quantity:     decimal.Zero,
		Price:        decimal.Zero,
		Notional:     decimal.Zero,
		FilledAt:     evt.Time,
	}); err != nil {
		return err
	}

	return m.positions.Close(ctx, pos.ID, evt.Income, evt.Time)
}

// incomeRecordType maps the venue's income-type string to the local enum,
// treating anything unrecognized as a transfer so it's still preserved for
// the commission/funding totals rather than silently dropped.
func incomeRecordType(venueType string) domain.IncomeRecordType {
	switch venueType {
	case incomeTypeRealizedPnL:
		return domain.IncomeRealizedPnL
	case "COMMISSION":
		return domain.IncomeCommission
	case "FUNDING_FEE":
		return domain.IncomeFunding
	default:
		return domain.IncomeTransfer
	}
}
