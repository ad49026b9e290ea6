package reconcile

import (
	"context"

	"github.com/vantapoint/liqengine/internal/domain"
)

// SweepOrphans pulls the venue's live positions and, for any non-zero
// position whose (symbol, side) has no local open row, synthesizes one: a
// position skeleton, an entry fill sized to the venue's reported quantity
// and average entry price, and the protective order pair against it. A
// position already tracked locally is left untouched — this never
// adjusts quantity or average entry, only fills gaps.
func (m *Manager) SweepOrphans(ctx context.Context) error {
	strategy, session, err := m.activeContext(ctx)
	if err != nil || strategy == nil || session == nil {
		return err
	}

	venuePositions, err := m.exchange.GetPositionRisk(ctx, "")
	if err != nil {
		return err
	}

	for _, vp := range venuePositions {
		if vp.Quantity.IsZero() {
			continue
		}
		existing, err := m.positions.GetOpen(ctx, domain.PositionKey{
			SessionID: session.ID, Symbol: vp.Symbol, Side: vp.Side,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := m.syncOrphan(ctx, strategy, session, vp); err != nil {
			m.log.Error().Err(err).Str("symbol", vp.Symbol).Str("side", string(vp.Side)).
				Msg("failed to sync orphan position")
		}
	}
	return nil
}

func (m *Manager) syncOrphan(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, vp domain.VenuePosition) error {
	now := m.clock()

	venueTradeID := syntheticVenueTradeID("sync-orphan", vp.Symbol, vp.Side)
	if existing, err := m.orders.GetByVenueOrderID(ctx, venueTradeID, session.ID); err != nil || existing != nil {
		return err
	}

	pos, err := m.manager.OpenPosition(ctx, session.ID, vp.Symbol, vp.Side, vp.Leverage, strategy.MaxLayers, now)
	if err != nil {
		return err
	}

	order, err := m.orders.Insert(ctx, domain.Order{
		VenueOrderID: venueTradeID,
		SessionID:    session.ID,
		Symbol:       vp.Symbol,
		Side:         vp.Side.EntryOrderSide(),
		Type:         domain.OrderTypeMarket,
		Quantity:     vp.Quantity,
		Status:       domain.OrderStatusFilled,
		Layer:        1,
		PositionID:   &pos.ID,
		CreatedAt:    now,
	})
	if err != nil {
		return err
	}

	fill := domain.Fill{
		VenueTradeID: venueTradeID,
		OrderID:      order.ID,
		PositionID:   pos.ID,
		SessionID:    session.ID,
		Symbol:       vp.Symbol,
		Side:         vp.Side.EntryOrderSide(),
		Quantity:     vp.Quantity,
		Price:        vp.EntryPrice,
		Notional:     vp.Quantity.Mul(vp.EntryPrice),
		FilledAt:     now,
	}
	if _, err := m.manager.ApplyFill(ctx, fill, strategy.StopLossPercent, vp.Quantity, strategy.MaxLayers); err != nil {
		return err
	}

	opened, err := m.positions.GetByID(ctx, pos.ID)
	if err != nil || opened == nil {
		return err
	}
	klines, err := m.klinesForProtective(ctx, strategy, vp.Symbol)
	if err != nil {
		return err
	}
	return m.manager.PlaceProtectiveOrders(ctx, *opened, strategy, klines, now)
}
