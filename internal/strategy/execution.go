package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/position"
)

// executeEntry opens the position skeleton and submits the first layer order
// against it. The fill itself arrives asynchronously on the user-data stream
// and is applied by applyUserTrade.
func (e *Engine) executeEntry(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, symbol string, side domain.Side, qty, price decimal.Decimal) error {
	now := e.clock()
	pos, err := e.manager.OpenPosition(ctx, session.ID, symbol, side, strategy.Leverage, strategy.MaxLayers, now)
	if err != nil {
		return err
	}
	return e.submitLayerOrder(ctx, strategy, session, pos, side, qty, price, 1, now)
}

// executeLayer submits an additional layer order against an already-open
// position.
func (e *Engine) executeLayer(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, pos domain.Position, qty, price decimal.Decimal) error {
	now := e.clock()
	return e.submitLayerOrder(ctx, strategy, session, pos, pos.Side, qty, price, pos.LayersFilled+1, now)
}

// submitLayerOrder places the entry-side order for one layer — market
// immediately, or limit with price-chasing — and records it as pending.
// Venue rejections after the retry budget is exhausted are recorded as a
// TradeEntryError rather than retried indefinitely.
func (e *Engine) submitLayerOrder(ctx context.Context, strategy *domain.Strategy, session *domain.TradeSession, pos domain.Position, side domain.Side, qty, referencePrice decimal.Decimal, layer int, now time.Time) error {
	orderSide := side.EntryOrderSide()
	positionSide := position.PositionSideParam(strategy, side)

	ack, err := e.submitWithChasing(ctx, strategy, pos.Symbol, orderSide, positionSide, qty, referencePrice)
	if err != nil {
		if recordErr := e.errors.Record(ctx, domain.TradeEntryError{
			Symbol:    pos.Symbol,
			Side:      side,
			Reason:    err.Error(),
			Payload:   "",
			CreatedAt: now,
		}); recordErr != nil {
			e.log.Error().Err(recordErr).Msg("failed to record trade entry error")
		}
		return err
	}

	_, err = e.orders.Insert(ctx, domain.Order{
		VenueOrderID: ack.VenueOrderID,
		SessionID:    session.ID,
		Symbol:       pos.Symbol,
		Side:         orderSide,
		Type:         strategy.OrderType,
		Quantity:     qty,
		Status:       domain.OrderStatusPending,
		Layer:        layer,
		PositionID:   &pos.ID,
		CreatedAt:    now,
	})
	return err
}

// submitWithChasing places a market order immediately, or a limit order that
// it re-prices whenever the market has moved beyond the slippage tolerance
// and the order is still resting, until the retry budget is exhausted.
func (e *Engine) submitWithChasing(ctx context.Context, strategy *domain.Strategy, symbol string, side domain.OrderSide, positionSide string, qty, referencePrice decimal.Decimal) (*domain.VenueOrderAck, error) {
	if strategy.OrderType == domain.OrderTypeMarket {
		return e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			Symbol:       symbol,
			Side:         string(side),
			Type:         "market",
			Quantity:     qty,
			PositionSide: positionSide,
		})
	}

	orderDelay := time.Duration(strategy.OrderDelayMs) * time.Millisecond
	deadline := e.clock().Add(time.Duration(strategy.MaxRetryDurationMs) * time.Millisecond)

	price := referencePrice
	ack, err := e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Symbol:       symbol,
		Side:         string(side),
		Type:         "limit",
		Quantity:     qty,
		Price:        &price,
		PositionSide: positionSide,
	})
	if err != nil {
		return nil, err
	}

	for e.clock().Before(deadline) {
		e.sleep(orderDelay)

		stillOpen, err := e.orderStillOpen(ctx, symbol, ack.VenueOrderID)
		if err != nil {
			return nil, err
		}
		if !stillOpen {
			return ack, nil
		}

		current, err := e.exchange.GetBatchTickerPrices(ctx, []string{symbol})
		if err != nil {
			return nil, err
		}
		latest, ok := current[symbol]
		if !ok || latest.IsZero() {
			continue
		}
		if !priceDrifted(price, latest, strategy.SlippageTolerancePercent) {
			continue
		}

		if err := e.exchange.CancelOrder(ctx, symbol, ack.VenueOrderID); err != nil {
			return nil, err
		}
		price = latest
		ack, err = e.exchange.PlaceOrder(ctx, domain.PlaceOrderRequest{
			Symbol:       symbol,
			Side:         string(side),
			Type:         "limit",
			Quantity:     qty,
			Price:        &price,
			PositionSide: positionSide,
		})
		if err != nil {
			return nil, err
		}
	}
	return ack, nil
}

func (e *Engine) orderStillOpen(ctx context.Context, symbol, venueOrderID string) (bool, error) {
	open, err := e.exchange.GetOpenOrders(ctx, symbol)
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.VenueOrderID == venueOrderID {
			return true, nil
		}
	}
	return false, nil
}

// priceDrifted reports whether latest has moved away from placed by more
// than tolerancePercent.
func priceDrifted(placed, latest, tolerancePercent decimal.Decimal) bool {
	if placed.IsZero() {
		return false
	}
	diff := latest.Sub(placed).Abs()
	driftPercent := diff.Div(placed).Mul(decimal.NewFromInt(100))
	return driftPercent.GreaterThan(tolerancePercent)
}
