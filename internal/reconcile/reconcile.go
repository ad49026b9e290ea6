// Package reconcile keeps the local ledger honest against the venue's own
// records: orphan-position detection picks up exposure the engine didn't
// itself open, and historical rebuild replays the venue's realized-P&L
// stream to backfill closed positions the local database never recorded.
// Both flows are safe to re-run; every write they make is idempotent.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/position"
)

const (
	historicalPageSize    = 1000
	historicalWindow      = 7 * 24 * time.Hour
	atrKlineInterval      = "15m"
	atrKlineLookback      = 30
	incomeTypeRealizedPnL = "REALIZED_PNL"
)

// Manager runs the two reconciliation flows against the active strategy's
// active session. It holds no durable state; the earliest field is not read
// or written by any method, so no earliest-income timestamp is cached.
type Manager struct {
	strategies *repository.StrategyRepository
	sessions   *repository.SessionRepository
	positions  *repository.PositionRepository
	orders     *repository.OrderRepository
	fills      *repository.FillRepository
	income     *repository.IncomeRepository
	manager    *position.Manager
	exchange   domain.ExchangeClient
	log        zerolog.Logger
	clock      func() time.Time

	earliest *time.Time
}

// NewManager builds a Manager over the given repositories, position
// manager, and exchange client.
func NewManager(
	strategies *repository.StrategyRepository,
	sessions *repository.SessionRepository,
	positions *repository.PositionRepository,
	orders *repository.OrderRepository,
	fills *repository.FillRepository,
	income *repository.IncomeRepository,
	manager *position.Manager,
	exchange domain.ExchangeClient,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		strategies: strategies,
		sessions:   sessions,
		positions:  positions,
		orders:     orders,
		fills:      fills,
		income:     income,
		manager:    manager,
		exchange:   exchange,
		log:        log.With().Str("component", "reconcile").Logger(),
		clock:      time.Now,
	}
}

// activeContext fetches the active strategy and session, or (nil, nil, nil)
// if either is absent — both sweeps are no-ops with nothing active.
func (m *Manager) activeContext(ctx context.Context) (*domain.Strategy, *domain.TradeSession, error) {
	strategy, err := m.strategies.GetActive(ctx)
	if err != nil || strategy == nil {
		return nil, nil, err
	}
	session, err := m.sessions.GetActive(ctx, strategy.ID)
	if err != nil || session == nil {
		return nil, nil, err
	}
	return strategy, session, nil
}

func (m *Manager) klinesForProtective(ctx context.Context, strategy *domain.Strategy, symbol string) ([]domain.VenueKline, error) {
	if !strategy.UseAdaptiveATR {
		return nil, nil
	}
	return m.exchange.GetKlines(ctx, symbol, atrKlineInterval, atrKlineLookback)
}

func syntheticVenueTradeID(prefix, symbol string, side domain.Side) string {
	return prefix + "-" + symbol + "-" + string(side)
}
