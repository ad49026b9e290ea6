package position

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/events"
)

// Manager maintains the aggregate accounting documented for Position: fill
// application, flat-close detection, and risk reservation. It holds no
// durable state of its own beyond the repositories it wraps.
type Manager struct {
	positions *repository.PositionRepository
	orders    *repository.OrderRepository
	fills     *repository.FillRepository
	exchange  domain.ExchangeClient
	bus       *events.Bus
	log       zerolog.Logger
}

// NewManager builds a Manager over the given repositories and exchange client.
func NewManager(positions *repository.PositionRepository, orders *repository.OrderRepository, fills *repository.FillRepository, exchange domain.ExchangeClient, bus *events.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		positions: positions,
		orders:    orders,
		fills:     fills,
		exchange:  exchange,
		bus:       bus,
		log:       log.With().Str("component", "position").Logger(),
	}
}

// OpenPosition creates the position skeleton a first entry order is placed
// against. Quantity starts at zero; ApplyFill populates it once the venue
// reports the fill.
func (m *Manager) OpenPosition(ctx context.Context, sessionID int64, symbol string, side domain.Side, leverage, maxLayers int, now time.Time) (domain.Position, error) {
	return m.positions.Open(ctx, domain.Position{
		SessionID:           sessionID,
		Symbol:              symbol,
		Side:                side,
		Quantity:            decimal.Zero,
		AverageEntryPrice:   decimal.Zero,
		TotalCost:           decimal.Zero,
		Leverage:            leverage,
		LayersFilled:        0,
		MaxLayers:           maxLayers,
		ReservedRiskDollars: decimal.Zero,
		UnrealizedPnL:       decimal.Zero,
		OpenedAt:            now,
	})
}

// ApplyFill is idempotent by (venue trade identifier, session): a duplicate
// delivery returns the already-stored fill without touching position state.
// A new fill updates quantity and weighted-average entry on the entry side,
// or reduces quantity and recomputes realized P&L on the exit side, then
// checks whether the position is now flat.
func (m *Manager) ApplyFill(ctx context.Context, f domain.Fill, stopPct, plannedLayerQuantity decimal.Decimal, maxLayers int) (domain.Fill, error) {
	stored, inserted, err := m.fills.InsertOrGet(ctx, f)
	if err != nil {
		return domain.Fill{}, err
	}
	if !inserted {
		return stored, nil
	}

	pos, err := m.positions.GetByID(ctx, stored.PositionID)
	if err != nil {
		return domain.Fill{}, err
	}
	if pos == nil {
		return domain.Fill{}, errors.New("position: applyFill references unknown position")
	}

	if stored.Side == pos.Side.EntryOrderSide() {
		if err := m.applyEntryFill(ctx, pos, stored, stopPct, plannedLayerQuantity, maxLayers); err != nil {
			return domain.Fill{}, err
		}
	} else {
		if err := m.applyExitFill(ctx, pos, stored); err != nil {
			return domain.Fill{}, err
		}
	}

	m.bus.Emit("position", events.TradeExecuted{Fill: stored})
	return stored, nil
}

func (m *Manager) applyEntryFill(ctx context.Context, pos *domain.Position, f domain.Fill, stopPct, plannedLayerQuantity decimal.Decimal, maxLayers int) error {
	newQty := pos.Quantity.Add(f.Quantity)
	newCost := pos.TotalCost.Add(f.Price.Mul(f.Quantity))
	newAvg := newCost.Div(newQty)
	layersFilled := pos.LayersFilled + 1

	reserved := ReserveRisk(pos.Side, newQty, newAvg, stopPct, plannedLayerQuantity, layersFilled, maxLayers)

	return m.positions.ApplyFill(ctx, pos.ID, newQty, newAvg, newCost, reserved, layersFilled)
}

func (m *Manager) applyExitFill(ctx context.Context, pos *domain.Position, f domain.Fill) error {
	exitQty := f.Quantity
	if exitQty.GreaterThan(pos.Quantity) {
		exitQty = pos.Quantity
	}
	remainingQty := pos.Quantity.Sub(exitQty)

	var realizedDelta decimal.Decimal
	if pos.Side == domain.SideLong {
		realizedDelta = f.Price.Sub(pos.AverageEntryPrice).Mul(exitQty)
	} else {
		realizedDelta = pos.AverageEntryPrice.Sub(f.Price).Mul(exitQty)
	}
	realizedDelta = realizedDelta.Sub(f.Commission)

	proportionRemaining := decimal.Zero
	if !pos.Quantity.IsZero() {
		proportionRemaining = remainingQty.Div(pos.Quantity)
	}
	newCost := pos.TotalCost.Mul(proportionRemaining)

	if err := m.positions.ApplyFill(ctx, pos.ID, remainingQty, pos.AverageEntryPrice, newCost, pos.ReservedRiskDollars, pos.LayersFilled); err != nil {
		return err
	}

	if remainingQty.IsZero() || remainingQty.IsNegative() {
		return m.closePositionIfFlat(ctx, pos.ID, realizedDelta)
	}
	return nil
}

// closePositionIfFlat marks a position closed once its net quantity reaches
// zero. This is the only close path the engine initiates — it never submits
// closing orders of its own; the venue closes positions by filling the
// protective order.
func (m *Manager) closePositionIfFlat(ctx context.Context, positionID int64, realizedPnL decimal.Decimal) error {
	closedAt := time.Now().UTC()
	if err := m.positions.Close(ctx, positionID, realizedPnL, closedAt); err != nil {
		return err
	}

	if err := m.cancelProtectiveOrders(ctx, positionID); err != nil {
		m.log.Warn().Err(err).Int64("position_id", positionID).Msg("failed to cancel protective orders on close")
	}

	closed, err := m.positions.GetByID(ctx, positionID)
	if err != nil {
		return err
	}
	if closed != nil {
		m.bus.Emit("position", events.PositionClosed{Position: *closed})
	}
	return nil
}

func (m *Manager) cancelProtectiveOrders(ctx context.Context, positionID int64) error {
	open, err := m.orders.OpenProtectiveOrders(ctx, positionID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range open {
		if err := m.exchange.CancelOrder(ctx, o.Symbol, o.VenueOrderID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RefreshUnrealizedPnL recomputes and persists the mark-to-market figure for
// one open position against a current reference price. Never triggers a
// close — that only happens through a protective-order fill.
func (m *Manager) RefreshUnrealizedPnL(ctx context.Context, pos domain.Position, currentPrice decimal.Decimal) error {
	var unrealized decimal.Decimal
	if pos.Side == domain.SideLong {
		unrealized = currentPrice.Sub(pos.AverageEntryPrice).Mul(pos.Quantity)
	} else {
		unrealized = pos.AverageEntryPrice.Sub(currentPrice).Mul(pos.Quantity)
	}
	return m.positions.UpdateUnrealizedPnL(ctx, pos.ID, unrealized)
}
