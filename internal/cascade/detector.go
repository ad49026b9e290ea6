// Package cascade tracks systemic liquidation risk per symbol and publishes
// a traffic-light score the strategy engine consults as a synchronous gate
// before opening any counter-trade.
package cascade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/events"
)

const (
	defaultTickInterval = 10 * time.Second
	defaultRotationK    = 3
	defaultMaxOIAge     = 60 * time.Second
)

// Detector is the per-symbol cascade-risk scorer. One instance runs for the
// engine's whole tracked symbol universe, on one ticker.
type Detector struct {
	exchange domain.ExchangeClient
	strategy *repository.StrategyRepository
	bus      *events.Bus
	log      zerolog.Logger

	tickInterval time.Duration
	rotationK    int
	maxOIAge     time.Duration

	statesMu sync.Mutex
	states   map[string]*symbolState

	sub      chan events.Envelope
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDetector builds a Detector. Call Start to begin the liquidation
// subscription and the tick loop.
func NewDetector(exchange domain.ExchangeClient, strategyRepo *repository.StrategyRepository, bus *events.Bus, log zerolog.Logger) *Detector {
	return &Detector{
		exchange:     exchange,
		strategy:     strategyRepo,
		bus:          bus,
		log:          log.With().Str("component", "cascade").Logger(),
		tickInterval: defaultTickInterval,
		rotationK:    defaultRotationK,
		maxOIAge:     defaultMaxOIAge,
		states:       make(map[string]*symbolState),
		stopChan:     make(chan struct{}),
	}
}

// Start subscribes to the liquidation feed and begins the tick loop. It logs
// the resulting OI refresh cycle length once the initial symbol set is read.
func (d *Detector) Start(ctx context.Context) {
	d.sub = d.bus.Subscribe()
	d.wg.Add(2)
	go d.consumeLiquidations()
	go d.tickLoop(ctx)
}

// Stop ends both background loops and waits for them to exit.
func (d *Detector) Stop() {
	close(d.stopChan)
	d.bus.Unsubscribe(d.sub)
	d.wg.Wait()
}

func (d *Detector) consumeLiquidations() {
	defer d.wg.Done()
	for env := range d.sub {
		msg, ok := env.Payload.(events.LiquidationIngested)
		if !ok {
			continue
		}
		l := msg.Liquidation
		notional, _ := l.Notional.Float64()
		d.stateFor(l.Symbol).recordLiquidation(l.LiquidatedSide, notional)
	}
}

func (d *Detector) stateFor(symbol string) *symbolState {
	d.statesMu.Lock()
	defer d.statesMu.Unlock()
	st, ok := d.states[symbol]
	if !ok {
		st = newSymbolState()
		d.states[symbol] = st
	}
	return st
}

func (d *Detector) tickLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tickInterval)
	defer ticker.Stop()

	loggedCycle := false
	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			strategy, err := d.strategy.GetActive(ctx)
			if err != nil {
				d.log.Error().Err(err).Msg("failed to load strategy for cascade tick")
				continue
			}
			if strategy == nil {
				d.log.Debug().Msg("no active strategy configured yet, skipping cascade tick")
				continue
			}
			symbols := strategy.SelectedAssets
			if !loggedCycle && len(symbols) > 0 {
				cycle := time.Duration(len(symbols)/d.rotationK+1) * d.tickInterval
				d.log.Info().
					Int("symbols", len(symbols)).
					Int("rotation_k", d.rotationK).
					Dur("oi_refresh_cycle", cycle).
					Msg("cascade OI refresh cycle established")
				loggedCycle = true
			}
			d.tick(ctx, symbols, strategy)
		}
	}
}

func (d *Detector) tick(ctx context.Context, symbols []string, strategy *domain.Strategy) {
	if len(symbols) == 0 {
		return
	}

	prices, err := d.exchange.GetBatchTickerPrices(ctx, symbols)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to fetch batch ticker prices for cascade tick")
		return
	}

	d.refreshRotatingOI(ctx, symbols)

	now := time.Now().UTC()
	retHigh, _ := strategy.RETHighThreshold.Float64()
	retMedium, _ := strategy.RETMediumThreshold.Float64()

	for _, symbol := range symbols {
		price, ok := prices[symbol]
		if !ok {
			continue
		}
		priceF, _ := price.Float64()
		snapshot := d.evaluateSymbol(symbol, priceF, retHigh, retMedium, strategy.CascadeAutoBlockEnabled, now)
		if snapshot.changed {
			d.bus.Emit("cascade", events.CascadeChanged{Snapshot: snapshot.snapshot})
		}
	}
}

// refreshRotatingOI fetches open interest for up to rotationK symbols per
// tick, ordered oldest-first by last-update timestamp, and skips any symbol
// whose cached OI hasn't aged past maxOIAge yet.
func (d *Detector) refreshRotatingOI(ctx context.Context, symbols []string) {
	now := time.Now().UTC()
	candidates := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		if d.stateFor(symbol).oiAge(now) >= d.maxOIAge {
			candidates = append(candidates, symbol)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return d.stateFor(candidates[i]).oiAge(now) > d.stateFor(candidates[j]).oiAge(now)
	})
	if len(candidates) > d.rotationK {
		candidates = candidates[:d.rotationK]
	}

	for _, symbol := range candidates {
		oi, err := d.exchange.GetOpenInterest(ctx, symbol)
		if err != nil {
			d.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to fetch open interest")
			continue
		}
		oiF, _ := oi.Float64()
		d.stateFor(symbol).recordOI(oiF, now)
	}
}

type symbolEvaluation struct {
	snapshot domain.CascadeSnapshot
	changed  bool
}

func (d *Detector) evaluateSymbol(symbol string, price, retHigh, retMedium float64, autoEnabled bool, now time.Time) symbolEvaluation {
	st := d.stateFor(symbol)

	lastReturn := st.recordPrice(price)

	st.mu.Lock()
	longWindow := append([]float64(nil), st.longNotional.Items()...)
	shortWindow := append([]float64(nil), st.shortNotional.Items()...)
	returns := append([]float64(nil), st.returns.Items()...)
	oiSamples := make([]float64, len(st.oiSnapshots.Items()))
	for i, s := range st.oiSnapshots.Items() {
		oiSamples[i] = s.value
	}
	currentLight := st.currentLight
	belowBandTicks := st.belowBandTicks
	st.mu.Unlock()

	longSum, shortSum := sum(longWindow), sum(shortWindow)
	side := dominantSide(longSum, shortSum)
	sameSideWindow := longWindow
	if side == domain.SideShort {
		sameSideWindow = shortWindow
	}

	lq := computeLQ(sameSideWindow)
	ret := computeRET(returns)
	aligned := retAligned(side, lastReturn)
	oi := computeOI(oiSamples)

	s := score(lq, ret, oi, retHigh, retMedium, aligned)
	targetLight := lightFromScore(s)

	newLight, newBelowBandTicks := applyHysteresis(currentLight, targetLight, s, belowBandTicks)

	oiDelta60 := oiDeltaOver(oiSamples, 6)
	oiDelta180 := oiDeltaOver(oiSamples, 18)
	q := quality(lq, ret, oiDelta60, oiDelta180, retHigh, retMedium)

	snapshot := domain.CascadeSnapshot{
		Symbol:    symbol,
		Score:     s,
		LQ:        decimal.NewFromFloat(lq),
		RET:       decimal.NewFromFloat(ret),
		OI:        decimal.NewFromFloat(oi),
		Light:     newLight,
		AutoBlock: autoEnabled && (newLight == domain.CascadeOrange || newLight == domain.CascadeRed),
		Quality:   q,
		UpdatedAt: now,
	}

	st.mu.Lock()
	changed := st.currentLight != newLight || !st.haveFirstSnapshot
	st.currentLight = newLight
	st.belowBandTicks = newBelowBandTicks
	st.lastSnapshot = snapshot
	st.haveFirstSnapshot = true
	st.mu.Unlock()

	return symbolEvaluation{snapshot: snapshot, changed: changed}
}

// applyHysteresis escalates immediately but requires the streak of
// consecutive ticks at or below the current level's lower band to exceed
// deEscalateSustainTicks before stepping down one level — the level holds
// through the sixth sustained tick and drops on the seventh. Any tick above
// the band resets the counter.
func applyHysteresis(current, target domain.CascadeLight, s, belowBandTicks int) (domain.CascadeLight, int) {
	if target >= current {
		return target, 0
	}

	band := lowerBand(current)
	if s > band {
		return current, 0
	}

	belowBandTicks++
	if belowBandTicks > deEscalateSustainTicks {
		return oneStepDown(current), 0
	}
	return current, belowBandTicks
}

// oiDeltaOver estimates the OI collapse over roughly the last n samples,
// used for the quality side channel's 60s/180s deltas (ticks, not seconds).
func oiDeltaOver(samples []float64, n int) float64 {
	if len(samples) < 2 {
		return 0
	}
	if n > len(samples) {
		n = len(samples)
	}
	window := samples[len(samples)-n:]
	return computeOI(window)
}

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// Snapshot returns the most recently computed snapshot for symbol, if any.
func (d *Detector) Snapshot(symbol string) (domain.CascadeSnapshot, bool) {
	d.statesMu.Lock()
	st, ok := d.states[symbol]
	d.statesMu.Unlock()
	if !ok {
		return domain.CascadeSnapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSnapshot, st.haveFirstSnapshot
}

// AutoBlock reports whether the strategy engine must abort an entry decision
// for symbol right now. Unknown symbols are never blocked.
func (d *Detector) AutoBlock(symbol string) bool {
	snapshot, ok := d.Snapshot(symbol)
	return ok && snapshot.AutoBlock
}
