package position

import (
	"context"
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

func newTestDB(t *testing.T, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    "file:" + t.Name() + "_" + name + "?mode=memory&cache=shared",
		Profile: database.ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// stubExchange implements only the methods the position manager calls;
// everything else panics as a "should never be reached" assertion.
type stubExchange struct {
	placeOrderCalls  []domain.PlaceOrderRequest
	cancelOrderCalls []string
	openOrders       []domain.VenueOrderAck
	nextOrderID      int64
}

func newStubExchange() *stubExchange { return &stubExchange{nextOrderID: 1} }

func (s *stubExchange) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.VenueOrderAck, error) {
	s.placeOrderCalls = append(s.placeOrderCalls, req)
	id := s.nextOrderID
	s.nextOrderID++
	price := decimal.Zero
	if req.Price != nil {
		price = *req.Price
	}
	return &domain.VenueOrderAck{
		VenueOrderID: decimal.NewFromInt(id).String(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Status:       "NEW",
		Price:        price,
		Quantity:     req.Quantity,
	}, nil
}

func (s *stubExchange) CancelOrder(ctx context.Context, symbol, venueOrderID string) error {
	s.cancelOrderCalls = append(s.cancelOrderCalls, venueOrderID)
	return nil
}

func (s *stubExchange) GetOpenOrders(ctx context.Context, symbol string) ([]domain.VenueOrderAck, error) {
	return s.openOrders, nil
}

func (s *stubExchange) GetAccountBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetPositionRisk(ctx context.Context, symbol string) ([]domain.VenuePosition, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetUserTrades(ctx context.Context, symbol string, startTime, endTime time.Time, limit int) ([]domain.VenueTrade, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetIncome(ctx context.Context, incomeType string, startTime, endTime time.Time, limit int) ([]domain.VenueIncome, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetDepth(ctx context.Context, symbol string, limit int) (*domain.VenueDepth, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetBatchTickerPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetOpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.VenueKline, error) {
	panic("not used by position manager")
}
func (s *stubExchange) GetSymbolPrecision(ctx context.Context, symbol string) (domain.SymbolPrecision, error) {
	panic("not used by position manager")
}

var _ domain.ExchangeClient = (*stubExchange)(nil)

func newTestManager(t *testing.T) (*Manager, *repository.PositionRepository, *repository.OrderRepository, *repository.FillRepository, *stubExchange, *events.Bus) {
	t.Helper()
	stateDB := newTestDB(t, "state")
	ledgerDB := newTestDB(t, "ledger")

	positions := repository.NewPositionRepository(stateDB)
	orders := repository.NewOrderRepository(ledgerDB)
	fills := repository.NewFillRepository(ledgerDB)
	exchange := newStubExchange()
	bus := events.NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	t.Cleanup(bus.Close)

	m := NewManager(positions, orders, fills, exchange, bus, zerolog.New(nil).Level(zerolog.Disabled))
	return m, positions, orders, fills, exchange, bus
}

func TestManager_ApplyFill_FirstEntrySetsAverageAndLayer(t *testing.T) {
	ctx := context.Background()
	m, positions, _, _, _, bus := newTestManager(t)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	pos, err := m.OpenPosition(ctx, 1, "BTCUSDT", domain.SideLong, 10, 3, time.Now().UTC())
	require.NoError(t, err)

	fill := domain.Fill{
		VenueTradeID: "t1", OrderID: 1, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(60000),
		Notional: decimal.NewFromInt(60000), Commission: decimal.Zero,
		Layer: 1, FilledAt: time.Now().UTC(),
	}

	_, err = m.ApplyFill(ctx, fill, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	stored, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, stored.Quantity.Equal(decimal.NewFromInt(1)))
	require.True(t, stored.AverageEntryPrice.Equal(decimal.NewFromInt(60000)))
	require.Equal(t, 1, stored.LayersFilled)
	require.True(t, stored.ReservedRiskDollars.GreaterThan(decimal.Zero))

	select {
	case env := <-sub:
		_, ok := env.Payload.(events.TradeExecuted)
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected TradeExecuted to be published")
	}
}

func TestManager_ApplyFill_DuplicateIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, positions, _, _, _, _ := newTestManager(t)

	pos, err := m.OpenPosition(ctx, 1, "BTCUSDT", domain.SideLong, 10, 3, time.Now().UTC())
	require.NoError(t, err)

	fill := domain.Fill{
		VenueTradeID: "dup", OrderID: 1, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(60000),
		Notional: decimal.NewFromInt(60000), Commission: decimal.Zero,
		Layer: 1, FilledAt: time.Now().UTC(),
	}
	_, err = m.ApplyFill(ctx, fill, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	_, err = m.ApplyFill(ctx, fill, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	stored, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, stored.Quantity.Equal(decimal.NewFromInt(1)), "duplicate fill must not double-apply")
}

func TestManager_ApplyFill_LayerRecomputesWeightedAverage(t *testing.T) {
	ctx := context.Background()
	m, positions, _, _, _, _ := newTestManager(t)

	pos, err := m.OpenPosition(ctx, 1, "BTCUSDT", domain.SideLong, 10, 3, time.Now().UTC())
	require.NoError(t, err)

	first := domain.Fill{
		VenueTradeID: "t1", OrderID: 1, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(60000),
		Notional: decimal.NewFromInt(60000), Layer: 1, FilledAt: time.Now().UTC(),
	}
	_, err = m.ApplyFill(ctx, first, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	second := domain.Fill{
		VenueTradeID: "t2", OrderID: 2, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(58000),
		Notional: decimal.NewFromInt(58000), Layer: 2, FilledAt: time.Now().UTC(),
	}
	_, err = m.ApplyFill(ctx, second, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	stored, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.True(t, stored.Quantity.Equal(decimal.NewFromInt(2)))
	require.True(t, stored.AverageEntryPrice.Equal(decimal.NewFromInt(59000)), "expected (60000+58000)/2 = 59000, got %s", stored.AverageEntryPrice)
	require.Equal(t, 2, stored.LayersFilled)
}

func TestManager_ApplyFill_ExitFillClosesPositionWhenFlat(t *testing.T) {
	ctx := context.Background()
	m, positions, orders, _, exchange, bus := newTestManager(t)
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	pos, err := m.OpenPosition(ctx, 1, "BTCUSDT", domain.SideLong, 10, 3, time.Now().UTC())
	require.NoError(t, err)

	entry := domain.Fill{
		VenueTradeID: "entry", OrderID: 1, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideBuy,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(60000),
		Notional: decimal.NewFromInt(60000), Layer: 1, FilledAt: time.Now().UTC(),
	}
	_, err = m.ApplyFill(ctx, entry, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	protectivePrice := decimal.NewFromInt(61200)
	stored, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	kind := domain.ProtectiveTakeProfit
	_, err = orders.Insert(ctx, domain.Order{
		VenueOrderID: "tp-1", SessionID: 1, Symbol: "BTCUSDT", Side: domain.OrderSideSell,
		Type: domain.OrderTypeLimit, Price: &protectivePrice, Quantity: stored.Quantity,
		Status: domain.OrderStatusPending, ReduceOnly: true, ProtectiveKind: &kind,
		PositionID: &pos.ID, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	exit := domain.Fill{
		VenueTradeID: "exit", OrderID: 2, PositionID: pos.ID, SessionID: 1,
		Symbol: "BTCUSDT", Side: domain.OrderSideSell,
		Quantity: decimal.NewFromInt(1), Price: protectivePrice,
		Notional: protectivePrice, Layer: 1, FilledAt: time.Now().UTC(),
	}
	_, err = m.ApplyFill(ctx, exit, decimal.NewFromInt(5), decimal.NewFromInt(1), 3)
	require.NoError(t, err)

	closed, err := positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	require.False(t, closed.IsOpen)
	require.NotNil(t, closed.RealizedPnL)
	require.True(t, closed.RealizedPnL.Equal(decimal.NewFromInt(1200)))
	require.Len(t, exchange.cancelOrderCalls, 1)

	var sawClosed bool
	for i := 0; i < 2; i++ {
		select {
		case env := <-sub:
			if _, ok := env.Payload.(events.PositionClosed); ok {
				sawClosed = true
			}
		case <-time.After(time.Second):
		}
	}
	require.True(t, sawClosed, "expected PositionClosed to be published")
}

func TestManager_RefreshUnrealizedPnL_LongAndShort(t *testing.T) {
	ctx := context.Background()
	m, positions, _, _, _, _ := newTestManager(t)

	longPos, err := m.OpenPosition(ctx, 1, "BTCUSDT", domain.SideLong, 10, 3, time.Now().UTC())
	require.NoError(t, err)
	longPos.Quantity = decimal.NewFromInt(1)
	longPos.AverageEntryPrice = decimal.NewFromInt(100)

	require.NoError(t, m.RefreshUnrealizedPnL(ctx, longPos, decimal.NewFromInt(110)))
	stored, err := positions.GetByID(ctx, longPos.ID)
	require.NoError(t, err)
	require.True(t, stored.UnrealizedPnL.Equal(decimal.NewFromInt(10)))

	shortPos, err := m.OpenPosition(ctx, 1, "ETHUSDT", domain.SideShort, 10, 3, time.Now().UTC())
	require.NoError(t, err)
	shortPos.Quantity = decimal.NewFromInt(1)
	shortPos.AverageEntryPrice = decimal.NewFromInt(100)

	require.NoError(t, m.RefreshUnrealizedPnL(ctx, shortPos, decimal.NewFromInt(90)))
	stored, err = positions.GetByID(ctx, shortPos.ID)
	require.NoError(t, err)
	require.True(t, stored.UnrealizedPnL.Equal(decimal.NewFromInt(10)))
}
