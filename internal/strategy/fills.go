package strategy

import (
	"context"

	"github.com/vantapoint/liqengine/internal/domain"
)

const atrKlineInterval = "15m"
const atrKlineLookback = 30

// applyUserTrade matches a user-data fill notification to the pending order
// the engine placed for it, applies it through the position manager, and —
// for entry/layer fills only, never for a protective-order fill — places or
// replaces the protective order pair against the freshly re-averaged
// position.
func (e *Engine) applyUserTrade(ctx context.Context, frame domain.UserTradeFrame) error {
	strategy, err := e.strategies.GetActive(ctx)
	if err != nil || strategy == nil {
		return err
	}
	session, err := e.sessions.GetActive(ctx, strategy.ID)
	if err != nil || session == nil {
		return err
	}

	order, err := e.orders.GetByVenueOrderID(ctx, frame.VenueOrderID, session.ID)
	if err != nil {
		return err
	}
	if order == nil || order.PositionID == nil {
		return nil
	}

	fill := domain.Fill{
		VenueTradeID: frame.VenueTradeID,
		OrderID:      order.ID,
		PositionID:   *order.PositionID,
		SessionID:    session.ID,
		Symbol:       frame.Symbol,
		Side:         order.Side,
		Quantity:     frame.Quantity,
		Price:        frame.Price,
		Notional:     frame.Quantity.Mul(frame.Price),
		Commission:   frame.Commission,
		Layer:        order.Layer,
		FilledAt:     frame.VenueTimestamp,
	}

	if _, err := e.manager.ApplyFill(ctx, fill, strategy.StopLossPercent, frame.Quantity, strategy.MaxLayers); err != nil {
		return err
	}

	if order.ProtectiveKind != nil {
		return nil
	}

	pos, err := e.positions.GetByID(ctx, *order.PositionID)
	if err != nil || pos == nil || !pos.IsOpen {
		return err
	}

	klines, err := e.klinesForProtective(ctx, strategy, pos.Symbol)
	if err != nil {
		return err
	}
	return e.manager.PlaceProtectiveOrders(ctx, *pos, strategy, klines, e.clock())
}

func (e *Engine) klinesForProtective(ctx context.Context, strategy *domain.Strategy, symbol string) ([]domain.VenueKline, error) {
	if !strategy.UseAdaptiveATR {
		return nil, nil
	}
	return e.exchange.GetKlines(ctx, symbol, atrKlineInterval, atrKlineLookback)
}
