package position

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
)

const (
	orderTypeLimit      = "limit"
	orderTypeStopMarket = "stop_market"
)

// PlaceProtectiveOrders submits the take-profit (LIMIT, reduce-only) and
// stop-loss (STOP_MARKET, reduce-only) pair for a freshly opened or
// re-averaged position, and records both as pending orders. The system never
// programmatically closes a position — closure happens when the venue fills
// one of these.
func (m *Manager) PlaceProtectiveOrders(ctx context.Context, pos domain.Position, strategy *domain.Strategy, klines []domain.VenueKline, now time.Time) error {
	profitPct, stopPct := ProtectiveDistances(strategy, klines)
	exitSide := pos.Side.ExitOrderSide()
	positionSide := PositionSideParam(strategy, pos.Side)

	tp := TakeProfitPrice(pos.Side, pos.AverageEntryPrice, profitPct)
	if err := m.submitProtective(ctx, pos, domain.ProtectiveTakeProfit, exitSide, positionSide, orderTypeLimit, &tp, nil, now); err != nil {
		return err
	}

	sl := StopLossPrice(pos.Side, pos.AverageEntryPrice, stopPct)
	return m.submitProtective(ctx, pos, domain.ProtectiveStopLoss, exitSide, positionSide, orderTypeStopMarket, nil, &sl, now)
}

func (m *Manager) submitProtective(ctx context.Context, pos domain.Position, kind domain.ProtectiveKind, exitSide domain.OrderSide, positionSide, orderType string, price, stopPrice *decimal.Decimal, now time.Time) error {
	ack, err := m.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:       pos.Symbol,
		Side:         string(exitSide),
		Type:         orderType,
		Quantity:     pos.Quantity,
		Price:        price,
		StopPrice:    stopPrice,
		ReduceOnly:   true,
		PositionSide: positionSide,
	})
	if err != nil {
		return err
	}

	kindCopy := kind
	_, err = m.orders.Insert(ctx, domain.Order{
		VenueOrderID:   ack.VenueOrderID,
		SessionID:      pos.SessionID,
		Symbol:         pos.Symbol,
		Side:           exitSide,
		Type:           domain.OrderType(orderType),
		Price:          price,
		Quantity:       pos.Quantity,
		Status:         domain.OrderStatusPending,
		ReduceOnly:     true,
		ProtectiveKind: &kindCopy,
		PositionID:     &pos.ID,
		CreatedAt:      now,
	})
	return err
}

// ReconcileProtectiveOrders runs on a schedule for every open position: it
// compares the venue's live open orders against the expected (TP, SL) pair
// and replaces whichever is missing or mismatched, using a place-then-cancel
// sequence so there's never a window with no protective order live.
func (m *Manager) ReconcileProtectiveOrders(ctx context.Context, pos domain.Position, strategy *domain.Strategy, klines []domain.VenueKline, now time.Time) error {
	liveOrders, err := m.exchange.GetOpenOrders(ctx, pos.Symbol)
	if err != nil {
		return err
	}

	expectedExitSide := pos.Side.ExitOrderSide()
	haveTP, haveSL := false, false
	for _, o := range liveOrders {
		if domain.OrderSide(o.Side) != expectedExitSide {
			continue
		}
		if o.Price.IsZero() {
			haveSL = true
		} else {
			haveTP = true
		}
	}

	localOrders, err := m.orders.OpenProtectiveOrders(ctx, pos.ID)
	if err != nil {
		return err
	}

	if !haveTP || !mismatchFree(localOrders, domain.ProtectiveTakeProfit, pos) {
		if err := m.replaceProtective(ctx, pos, strategy, klines, domain.ProtectiveTakeProfit, localOrders, now); err != nil {
			return err
		}
	}
	if !haveSL || !mismatchFree(localOrders, domain.ProtectiveStopLoss, pos) {
		if err := m.replaceProtective(ctx, pos, strategy, klines, domain.ProtectiveStopLoss, localOrders, now); err != nil {
			return err
		}
	}
	return nil
}

// mismatchFree reports whether a locally recorded protective order of the
// given kind exists and still matches the position's current quantity — a
// quantity drift (e.g. after a layer fill re-averaged the position) is a
// mismatch requiring replacement.
func mismatchFree(localOrders []domain.Order, kind domain.ProtectiveKind, pos domain.Position) bool {
	for _, o := range localOrders {
		if o.ProtectiveKind != nil && *o.ProtectiveKind == kind {
			return o.Quantity.Equal(pos.Quantity)
		}
	}
	return false
}

func (m *Manager) replaceProtective(ctx context.Context, pos domain.Position, strategy *domain.Strategy, klines []domain.VenueKline, kind domain.ProtectiveKind, localOrders []domain.Order, now time.Time) error {
	profitPct, stopPct := ProtectiveDistances(strategy, klines)
	exitSide := pos.Side.ExitOrderSide()
	positionSide := PositionSideParam(strategy, pos.Side)

	var err error
	switch kind {
	case domain.ProtectiveTakeProfit:
		tp := TakeProfitPrice(pos.Side, pos.AverageEntryPrice, profitPct)
		err = m.submitProtective(ctx, pos, kind, exitSide, positionSide, orderTypeLimit, &tp, nil, now)
	case domain.ProtectiveStopLoss:
		sl := StopLossPrice(pos.Side, pos.AverageEntryPrice, stopPct)
		err = m.submitProtective(ctx, pos, kind, exitSide, positionSide, orderTypeStopMarket, nil, &sl, now)
	}
	if err != nil {
		return err
	}

	for _, o := range localOrders {
		if o.ProtectiveKind != nil && *o.ProtectiveKind == kind {
			if cancelErr := m.exchange.CancelOrder(ctx, o.Symbol, o.VenueOrderID); cancelErr != nil {
				m.log.Warn().Err(cancelErr).Str("symbol", o.Symbol).Str("venue_order_id", o.VenueOrderID).
					Msg("failed to cancel stale protective order after replacement")
			}
		}
	}
	return nil
}

// PositionSideParam maps a position direction to the venue's hedge-mode
// positionSide parameter. In one-way mode the venue ignores it, so it's safe
// to always send it for hedge-mode accounts and omit it otherwise.
func PositionSideParam(strategy *domain.Strategy, side domain.Side) string {
	if !strategy.HedgeMode {
		return ""
	}
	if side == domain.SideLong {
		return "LONG"
	}
	return "SHORT"
}
