package cascade

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/events"
)

// fakeExchange is a minimal domain.ExchangeClient stub covering only the
// market-data calls the detector makes; every other method panics if hit.
type fakeExchange struct {
	mu sync.Mutex

	prices map[string]decimal.Decimal
	oi     map[string]decimal.Decimal

	batchPriceCalls int32
	oiCallSymbols   []string
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices: make(map[string]decimal.Decimal),
		oi:     make(map[string]decimal.Decimal),
	}
}

func (f *fakeExchange) GetBatchTickerPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	atomic.AddInt32(&f.batchPriceCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (f *fakeExchange) GetOpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oiCallSymbols = append(f.oiCallSymbols, symbol)
	return f.oi[symbol], nil
}

func (f *fakeExchange) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = decimal.NewFromFloat(price)
}

func (f *fakeExchange) setOI(symbol string, oi float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.oi[symbol] = decimal.NewFromFloat(oi)
}

func (f *fakeExchange) oiCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.oiCallSymbols)
}

// The remaining domain.ExchangeClient methods are never exercised by the
// detector and are unimplemented on purpose.
func (f *fakeExchange) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetPositionRisk(ctx context.Context, symbol string) ([]domain.VenuePosition, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.VenueOrderAck, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]domain.VenueOrderAck, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetUserTrades(ctx context.Context, symbol string, startTime, endTime time.Time, limit int) ([]domain.VenueTrade, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetIncome(ctx context.Context, incomeType string, startTime, endTime time.Time, limit int) ([]domain.VenueIncome, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetDepth(ctx context.Context, symbol string, limit int) (*domain.VenueDepth, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.VenueKline, error) {
	panic("not used by cascade detector")
}
func (f *fakeExchange) GetSymbolPrecision(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	panic("not used by cascade detector")
}

var _ domain.ExchangeClient = (*fakeExchange)(nil)

func newTestStateDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Conn().Close() })
	return db
}

func seedStrategy(t *testing.T, db *database.DB, symbols []string) *repository.StrategyRepository {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Conn().ExecContext(context.Background(),
		`INSERT INTO strategy (created_at, updated_at, is_active) VALUES (?, ?, 1)`,
		now.UnixMilli(), now.UnixMilli())
	require.NoError(t, err)

	repo := repository.NewStrategyRepository(db)
	s, err := repo.GetActive(context.Background())
	require.NoError(t, err)
	s.SelectedAssets = symbols
	s.RETHighThreshold = decimal.NewFromInt(35)
	s.RETMediumThreshold = decimal.NewFromInt(25)
	s.CascadeAutoBlockEnabled = true
	require.NoError(t, repo.Update(context.Background(), *s, now))
	return repo
}

func newTestDetector(t *testing.T, exchange *fakeExchange, symbols []string) (*Detector, *repository.StrategyRepository, *events.Bus) {
	t.Helper()
	db := newTestStateDB(t)
	repo := seedStrategy(t, db, symbols)
	bus := events.NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	t.Cleanup(bus.Close)
	d := NewDetector(exchange, repo, bus, zerolog.New(nil).Level(zerolog.Disabled))
	d.tickInterval = 10 * time.Millisecond
	d.maxOIAge = 0 // always stale, so every tick is a rotation candidate
	return d, repo, bus
}

func TestDetector_Tick_FetchesBatchPricesOncePerTick(t *testing.T) {
	exchange := newFakeExchange()
	exchange.setPrice("BTCUSDT", 100)
	exchange.setPrice("ETHUSDT", 10)

	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT", "ETHUSDT"})
	strategy, err := d.strategy.GetActive(context.Background())
	require.NoError(t, err)

	d.tick(context.Background(), strategy.SelectedAssets, strategy)

	require.EqualValues(t, 1, atomic.LoadInt32(&exchange.batchPriceCalls))
}

func TestDetector_RefreshRotatingOI_RespectsRotationK(t *testing.T) {
	exchange := newFakeExchange()
	symbols := []string{"A", "B", "C", "D", "E"}
	for _, s := range symbols {
		exchange.setOI(s, 100)
	}

	d, _, _ := newTestDetector(t, exchange, symbols)
	d.rotationK = 3

	d.refreshRotatingOI(context.Background(), symbols)

	require.Equal(t, 3, exchange.oiCallCount())
}

func TestDetector_RefreshRotatingOI_SkipsFreshSymbols(t *testing.T) {
	exchange := newFakeExchange()
	symbols := []string{"A", "B"}
	exchange.setOI("A", 100)
	exchange.setOI("B", 100)

	d, _, _ := newTestDetector(t, exchange, symbols)
	d.maxOIAge = time.Hour
	d.stateFor("A").recordOI(100, time.Now())
	d.stateFor("B").recordOI(100, time.Now())

	d.refreshRotatingOI(context.Background(), symbols)

	require.Equal(t, 0, exchange.oiCallCount())
}

func TestDetector_EvaluateSymbol_EscalatesImmediately(t *testing.T) {
	exchange := newFakeExchange()
	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT"})

	st := d.stateFor("BTCUSDT")
	for i := 0; i < 10; i++ {
		st.recordLiquidation(domain.SideLong, 100)
	}
	st.recordPrice(100)

	eval := d.evaluateSymbol("BTCUSDT", 99, 35, 25, true, time.Now())
	require.True(t, eval.changed)
	require.Equal(t, domain.CascadeOrange, eval.snapshot.Light)
}

func TestDetector_EvaluateSymbol_DeEscalationRequiresSixTicks(t *testing.T) {
	exchange := newFakeExchange()
	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT"})

	st := d.stateFor("BTCUSDT")
	st.mu.Lock()
	st.currentLight = domain.CascadeRed
	st.haveFirstSnapshot = true
	st.mu.Unlock()

	now := time.Now()
	for i := 0; i < 6; i++ {
		eval := d.evaluateSymbol("BTCUSDT", 100, 35, 25, true, now)
		require.Equal(t, domain.CascadeRed, eval.snapshot.Light, "tick %d should not yet de-escalate", i)
	}

	eval := d.evaluateSymbol("BTCUSDT", 100, 35, 25, true, now)
	require.Equal(t, domain.CascadeOrange, eval.snapshot.Light, "seventh consecutive quiet tick should step down one level")
}

func TestDetector_EvaluateSymbol_ExcursionResetsDeEscalationCounter(t *testing.T) {
	exchange := newFakeExchange()
	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT"})

	st := d.stateFor("BTCUSDT")
	st.mu.Lock()
	st.currentLight = domain.CascadeRed
	st.haveFirstSnapshot = true
	st.mu.Unlock()

	now := time.Now()
	for i := 0; i < 5; i++ {
		d.evaluateSymbol("BTCUSDT", 100, 35, 25, true, now)
	}

	// An excursion back above the lower band resets the streak: LQ (+2), a
	// fresh aligned drop scoring high RET (+2) and a 5% OI collapse (+2).
	for i := 0; i < 9; i++ {
		st.recordLiquidation(domain.SideLong, 100)
	}
	st.returns = newRingBuffer[float64](returnWindowSize)
	st.recordOI(100, now)
	st.recordOI(95, now)
	eval := d.evaluateSymbol("BTCUSDT", 99, 35, 25, true, now)
	require.Equal(t, domain.CascadeRed, eval.snapshot.Light)

	for i := 0; i < 5; i++ {
		eval = d.evaluateSymbol("BTCUSDT", 100, 35, 25, true, now)
		require.Equal(t, domain.CascadeRed, eval.snapshot.Light, "streak should have restarted after the excursion")
	}
}

func TestDetector_AutoBlock_TrueOnlyWhenEnabledAndOrangeOrAbove(t *testing.T) {
	exchange := newFakeExchange()
	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT"})

	require.False(t, d.AutoBlock("BTCUSDT"), "unknown symbol is never blocked")

	st := d.stateFor("BTCUSDT")
	for i := 0; i < 10; i++ {
		st.recordLiquidation(domain.SideLong, 100)
	}
	st.recordPrice(100)
	d.evaluateSymbol("BTCUSDT", 99, 35, 25, true, time.Now())

	require.True(t, d.AutoBlock("BTCUSDT"))
}

func TestDetector_Snapshot_ReturnsFalseBeforeFirstTick(t *testing.T) {
	exchange := newFakeExchange()
	d, _, _ := newTestDetector(t, exchange, []string{"BTCUSDT"})

	_, ok := d.Snapshot("BTCUSDT")
	require.False(t, ok)
}

func TestDetector_ConsumeLiquidations_FeedsSymbolState(t *testing.T) {
	exchange := newFakeExchange()
	d, _, bus := newTestDetector(t, exchange, []string{"BTCUSDT"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	bus.Emit("test", events.LiquidationIngested{Liquidation: domain.Liquidation{
		Symbol:         "BTCUSDT",
		LiquidatedSide: domain.SideLong,
		Notional:       decimal.NewFromInt(500),
	}})

	require.Eventually(t, func() bool {
		return d.stateFor("BTCUSDT").longNotional.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDetector_TickLoop_SkipsWhenNoActiveStrategy(t *testing.T) {
	exchange := newFakeExchange()
	db := newTestStateDB(t)
	repo := repository.NewStrategyRepository(db)
	bus := events.NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	t.Cleanup(bus.Close)

	d := NewDetector(exchange, repo, bus, zerolog.New(nil).Level(zerolog.Disabled))
	d.tickInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	d.Stop()

	require.EqualValues(t, 0, atomic.LoadInt32(&exchange.batchPriceCalls), "no active strategy means no tick should fetch prices")
}
