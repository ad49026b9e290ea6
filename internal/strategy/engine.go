// Package strategy runs every ingested liquidation through the gate
// pipeline — pause, cascade, cooldown, percentile, portfolio-limit,
// risk-budget — and, for whichever liquidations clear all six, opens or
// layers a counter-trade position.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/events"
	"github.com/vantapoint/liqengine/internal/keylock"
	"github.com/vantapoint/liqengine/internal/moneys"
	"github.com/vantapoint/liqengine/internal/position"
)

// CascadeGate is the subset of *cascade.Detector the engine depends on,
// defined here so tests can substitute a fake without standing up the real
// detector's rolling windows and database.
type CascadeGate interface {
	AutoBlock(symbol string) bool
}

// GateResult names the outcome of running one liquidation through the
// pipeline: either it was executed, or it names the first gate that
// rejected it.
type GateResult string

const (
	GateResultExecuted          GateResult = "executed"
	GateResultNoStrategy        GateResult = "no_strategy"
	GateResultPaused            GateResult = "paused"
	GateResultSymbolNotSelected GateResult = "symbol_not_selected"
	GateResultCascadeBlocked    GateResult = "cascade_blocked"
	GateResultCooldown          GateResult = "cooldown"
	GateResultPercentile        GateResult = "percentile"
	GateResultPortfolioLimit    GateResult = "portfolio_limit"
	GateResultRiskBudget        GateResult = "risk_budget"
	GateResultNoSession         GateResult = "no_session"
	GateResultNoPrice           GateResult = "no_price"
	GateResultZeroQuantity      GateResult = "zero_quantity"
	GateResultLayersExhausted   GateResult = "layers_exhausted"
)

// Engine subscribes to ingested liquidations and user-data fills, runs the
// gate pipeline, and drives entry/layer execution and fill application.
type Engine struct {
	strategies *repository.StrategyRepository
	sessions   *repository.SessionRepository
	positions  *repository.PositionRepository
	liqs       *repository.LiquidationRepository
	orders     *repository.OrderRepository
	errors     *repository.TradeEntryErrorRepository
	manager    *position.Manager
	exchange   domain.ExchangeClient
	cascade    CascadeGate
	bus        *events.Bus
	log        zerolog.Logger

	locks     *keylock.Map[string]
	cooldowns *cooldownTracker

	sub  chan events.Envelope
	done chan struct{}
	wg   sync.WaitGroup

	clock func() time.Time
	sleep func(time.Duration)
}

// NewEngine builds an Engine over the given repositories, position manager,
// and exchange client.
func NewEngine(
	strategies *repository.StrategyRepository,
	sessions *repository.SessionRepository,
	positions *repository.PositionRepository,
	liqs *repository.LiquidationRepository,
	orders *repository.OrderRepository,
	errs *repository.TradeEntryErrorRepository,
	manager *position.Manager,
	exchange domain.ExchangeClient,
	cascade CascadeGate,
	bus *events.Bus,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		strategies: strategies,
		sessions:   sessions,
		positions:  positions,
		liqs:       liqs,
		orders:     orders,
		errors:     errs,
		manager:    manager,
		exchange:   exchange,
		cascade:    cascade,
		bus:        bus,
		log:        log.With().Str("component", "strategy").Logger(),
		locks:      keylock.New[string](),
		cooldowns:  newCooldownTracker(),
		done:       make(chan struct{}),
		clock:      time.Now,
		sleep:      time.Sleep,
	}
}

// Start subscribes to the event bus and begins consuming liquidations and
// user-data fills in a background goroutine. Stop unsubscribes and waits for
// it to drain.
func (e *Engine) Start(ctx context.Context) {
	e.sub = e.bus.Subscribe()
	e.wg.Add(1)
	go e.consume(ctx)
}

// Stop unsubscribes from the event bus and waits for the consume loop to exit.
func (e *Engine) Stop() {
	close(e.done)
	e.bus.Unsubscribe(e.sub)
	e.wg.Wait()
}

func (e *Engine) consume(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case env, ok := <-e.sub:
			if !ok {
				return
			}
			switch msg := env.Payload.(type) {
			case events.LiquidationIngested:
				go func(liq domain.Liquidation) {
					if _, err := e.Evaluate(ctx, liq); err != nil {
						e.log.Error().Err(err).Str("symbol", liq.Symbol).Msg("failed to evaluate liquidation")
					}
				}(msg.Liquidation)
			case events.UserTradeUpdate:
				if err := e.applyUserTrade(ctx, msg.Frame); err != nil {
					e.log.Error().Err(err).Str("venue_trade_id", msg.Frame.VenueTradeID).Msg("failed to apply user trade update")
				}
			}
		}
	}
}

// Evaluate runs one liquidation through the full gate pipeline, executing an
// entry or layer order when every gate clears. It returns the result of the
// first gate that rejected the liquidation, or GateResultExecuted.
func (e *Engine) Evaluate(ctx context.Context, liq domain.Liquidation) (GateResult, error) {
	strategy, err := e.strategies.GetActive(ctx)
	if err != nil {
		return GateResultNoStrategy, err
	}
	if strategy == nil {
		return GateResultNoStrategy, nil
	}
	if strategy.Paused {
		return GateResultPaused, nil
	}
	if !symbolSelected(strategy.SelectedAssets, liq.Symbol) {
		return GateResultSymbolNotSelected, nil
	}
	if e.cascade.AutoBlock(liq.Symbol) {
		return GateResultCascadeBlocked, nil
	}

	counterSide := liq.LiquidatedSide.Opposite()

	unlock := e.locks.Lock(lockKey(liq.Symbol, counterSide))
	defer unlock()

	now := e.clock()
	if e.cooldowns.within(liq.Symbol, counterSide, now, strategy.LayerDelayDuration()) {
		return GateResultCooldown, nil
	}

	recent, err := e.liqs.RecentBySymbol(ctx, liq.Symbol, now.Add(-percentileWindowSeconds*time.Second))
	if err != nil {
		return GateResultPercentile, err
	}
	notionals := make([]decimal.Decimal, 0, len(recent))
	for _, r := range recent {
		notionals = append(notionals, r.Notional)
	}
	rank := PercentileRank(liq.Notional, notionals)
	if rank.LessThan(strategy.PercentileThreshold) {
		return GateResultPercentile, nil
	}

	session, err := e.sessions.GetActive(ctx, strategy.ID)
	if err != nil {
		return GateResultNoSession, err
	}
	if session == nil {
		return GateResultNoSession, nil
	}

	openPositions, err := e.positions.AllOpen(ctx, session.ID)
	if err != nil {
		return GateResultPortfolioLimit, err
	}
	existing, err := e.positions.GetOpen(ctx, domain.PositionKey{SessionID: session.ID, Symbol: liq.Symbol, Side: counterSide})
	if err != nil {
		return GateResultPortfolioLimit, err
	}

	if existing == nil && wouldExceedSymbolLimit(openPositions, liq.Symbol, strategy.MaxPortfolioSymbolCount) {
		return GateResultPortfolioLimit, nil
	}
	if existing != nil && existing.LayersFilled >= strategy.MaxLayers {
		return GateResultLayersExhausted, nil
	}

	prices, err := e.exchange.GetBatchTickerPrices(ctx, []string{liq.Symbol})
	if err != nil {
		return GateResultNoPrice, err
	}
	price, ok := prices[liq.Symbol]
	if !ok || price.IsZero() {
		return GateResultNoPrice, nil
	}

	precision, err := e.exchange.GetSymbolPrecision(ctx, liq.Symbol)
	if err != nil {
		return GateResultNoPrice, err
	}
	qty := layerQuantity(session, strategy, price, precision)
	if qty.IsZero() {
		return GateResultZeroQuantity, nil
	}

	if wouldExceedRiskBudget(openPositions, existing, counterSide, qty, price, strategy) {
		return GateResultRiskBudget, nil
	}

	e.cooldowns.arm(liq.Symbol, counterSide, now)

	if existing == nil {
		if err := e.executeEntry(ctx, strategy, session, liq.Symbol, counterSide, qty, price); err != nil {
			return GateResultExecuted, err
		}
	} else {
		if err := e.executeLayer(ctx, strategy, session, *existing, qty, price); err != nil {
			return GateResultExecuted, err
		}
	}
	return GateResultExecuted, nil
}

func symbolSelected(selected []string, symbol string) bool {
	for _, s := range selected {
		if s == symbol {
			return true
		}
	}
	return false
}

func wouldExceedSymbolLimit(open []domain.Position, symbol string, maxSymbols int) bool {
	symbols := make(map[string]bool, len(open))
	for _, p := range open {
		symbols[p.Symbol] = true
	}
	if symbols[symbol] {
		return false
	}
	return len(symbols) >= maxSymbols
}

// wouldExceedRiskBudget projects the portfolio's total reserved risk after
// adding this layer (replacing the position's own current contribution, if
// any) and compares it against the strategy's cap. The distance used for the
// projection is the strategy's fixed stop-loss percent rather than an
// ATR-adaptive figure — the adaptive distance needs a kline fetch per
// candidate symbol, which this pre-trade gate intentionally avoids; the
// actual protective stop placed on fill may sit closer or further out.
func wouldExceedRiskBudget(open []domain.Position, existing *domain.Position, side domain.Side, layerQty, price decimal.Decimal, strategy *domain.Strategy) bool {
	var otherReserved decimal.Decimal
	for _, p := range open {
		if existing != nil && p.ID == existing.ID {
			continue
		}
		otherReserved = otherReserved.Add(p.ReservedRiskDollars)
	}

	var projectedQty, projectedAvg decimal.Decimal
	layersFilled := 0
	if existing != nil {
		projectedQty = existing.Quantity.Add(layerQty)
		projectedAvg = moneys.WeightedAverage(
			[]decimal.Decimal{existing.AverageEntryPrice, price},
			[]decimal.Decimal{existing.Quantity, layerQty},
		)
		layersFilled = existing.LayersFilled
	} else {
		projectedQty = layerQty
		projectedAvg = price
	}

	newReserved := position.ReserveRisk(side, projectedQty, projectedAvg, strategy.StopLossPercent, layerQty, layersFilled+1, strategy.MaxLayers)
	return otherReserved.Add(newReserved).GreaterThan(strategy.MaxPortfolioRiskDollars)
}

func lockKey(symbol string, side domain.Side) string {
	return symbol + "|" + string(side)
}
