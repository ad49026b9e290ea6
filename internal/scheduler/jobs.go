package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/domain"
	"github.com/vantapoint/liqengine/internal/position"
	"github.com/vantapoint/liqengine/internal/reconcile"
)

const (
	atrKlineInterval = "15m"
	atrKlineLookback = 30

	liquidationRetention = 30 * 24 * time.Hour

	diskSpaceCriticalGB = 0.5
	diskSpaceWarningGB  = 5.0
)

// activeContext is the shared "is there anything to do" lookup every job in
// this package starts with: no active strategy or no active session means
// the job is a no-op, not an error.
func activeContext(ctx context.Context, strategies *repository.StrategyRepository, sessions *repository.SessionRepository) (*domain.Strategy, *domain.TradeSession, error) {
	strategy, err := strategies.GetActive(ctx)
	if err != nil || strategy == nil {
		return nil, nil, err
	}
	session, err := sessions.GetActive(ctx, strategy.ID)
	if err != nil || session == nil {
		return nil, nil, err
	}
	return strategy, session, nil
}

func klinesIfAdaptive(ctx context.Context, exchange domain.ExchangeClient, strategy *domain.Strategy, symbol string) ([]domain.VenueKline, error) {
	if !strategy.UseAdaptiveATR {
		return nil, nil
	}
	return exchange.GetKlines(ctx, symbol, atrKlineInterval, atrKlineLookback)
}

// ExitMonitorJob recomputes unrealized P&L for every open position against
// current venue prices. It never closes a position programmatically —
// closure only ever happens through a protective-order fill.
type ExitMonitorJob struct {
	strategies *repository.StrategyRepository
	sessions   *repository.SessionRepository
	positions  *repository.PositionRepository
	manager    *position.Manager
	exchange   domain.ExchangeClient
	log        zerolog.Logger
}

// NewExitMonitorJob builds an ExitMonitorJob.
func NewExitMonitorJob(strategies *repository.StrategyRepository, sessions *repository.SessionRepository, positions *repository.PositionRepository, manager *position.Manager, exchange domain.ExchangeClient, log zerolog.Logger) *ExitMonitorJob {
	return &ExitMonitorJob{strategies: strategies, sessions: sessions, positions: positions, manager: manager, exchange: exchange, log: log.With().Str("job", "exit_monitor").Logger()}
}

func (j *ExitMonitorJob) Name() string { return "exit_monitor" }

func (j *ExitMonitorJob) Run(ctx context.Context) error {
	_, session, err := activeContext(ctx, j.strategies, j.sessions)
	if err != nil || session == nil {
		return err
	}

	open, err := j.positions.AllOpen(ctx, session.ID)
	if err != nil || len(open) == 0 {
		return err
	}

	symbols := make([]string, 0, len(open))
	seen := make(map[string]struct{}, len(open))
	for _, pos := range open {
		if _, ok := seen[pos.Symbol]; ok {
			continue
		}
		seen[pos.Symbol] = struct{}{}
		symbols = append(symbols, pos.Symbol)
	}

	prices, err := j.exchange.GetBatchTickerPrices(ctx, symbols)
	if err != nil {
		return err
	}

	for _, pos := range open {
		price, ok := prices[pos.Symbol]
		if !ok {
			continue
		}
		if err := j.manager.RefreshUnrealizedPnL(ctx, pos, price); err != nil {
			j.log.Error().Err(err).Str("symbol", pos.Symbol).Int64("position_id", pos.ID).Msg("failed to refresh unrealized pnl")
		}
	}
	return nil
}

// ProtectiveReconciliationJob compares each open position's live venue
// orders against the expected take-profit/stop-loss pair and repairs any
// gap or mismatch.
type ProtectiveReconciliationJob struct {
	strategies *repository.StrategyRepository
	sessions   *repository.SessionRepository
	positions  *repository.PositionRepository
	manager    *position.Manager
	exchange   domain.ExchangeClient
	clock      func() time.Time
	log        zerolog.Logger
}

// NewProtectiveReconciliationJob builds a ProtectiveReconciliationJob.
func NewProtectiveReconciliationJob(strategies *repository.StrategyRepository, sessions *repository.SessionRepository, positions *repository.PositionRepository, manager *position.Manager, exchange domain.ExchangeClient, log zerolog.Logger) *ProtectiveReconciliationJob {
	return &ProtectiveReconciliationJob{strategies: strategies, sessions: sessions, positions: positions, manager: manager, exchange: exchange, clock: time.Now, log: log.With().Str("job", "protective_reconciliation").Logger()}
}

func (j *ProtectiveReconciliationJob) Name() string { return "protective_reconciliation" }

func (j *ProtectiveReconciliationJob) Run(ctx context.Context) error {
	strategy, session, err := activeContext(ctx, j.strategies, j.sessions)
	if err != nil || strategy == nil || session == nil {
		return err
	}

	open, err := j.positions.AllOpen(ctx, session.ID)
	if err != nil {
		return err
	}

	now := j.clock()
	for _, pos := range open {
		klines, err := klinesIfAdaptive(ctx, j.exchange, strategy, pos.Symbol)
		if err != nil {
			j.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("failed to fetch klines for reconciliation")
			continue
		}
		if err := j.manager.ReconcileProtectiveOrders(ctx, pos, strategy, klines, now); err != nil {
			j.log.Error().Err(err).Str("symbol", pos.Symbol).Int64("position_id", pos.ID).Msg("failed to reconcile protective orders")
		}
	}
	return nil
}

// OrphanSweepJob wraps reconcile.Manager.SweepOrphans for scheduled
// cadence.
type OrphanSweepJob struct {
	reconciler *reconcile.Manager
}

// NewOrphanSweepJob builds an OrphanSweepJob.
func NewOrphanSweepJob(reconciler *reconcile.Manager) *OrphanSweepJob {
	return &OrphanSweepJob{reconciler: reconciler}
}

func (j *OrphanSweepJob) Name() string { return "orphan_sweep" }

func (j *OrphanSweepJob) Run(ctx context.Context) error {
	return j.reconciler.SweepOrphans(ctx)
}

// HistoricalRebuildJob wraps reconcile.Manager.RebuildHistory. It runs on
// its own (slower) cadence. Scheduler.RunNow can run it on demand, but no
// operator HTTP route does so.
type HistoricalRebuildJob struct {
	reconciler *reconcile.Manager
}

// NewHistoricalRebuildJob builds a HistoricalRebuildJob.
func NewHistoricalRebuildJob(reconciler *reconcile.Manager) *HistoricalRebuildJob {
	return &HistoricalRebuildJob{reconciler: reconciler}
}

func (j *HistoricalRebuildJob) Name() string { return "historical_rebuild" }

func (j *HistoricalRebuildJob) Run(ctx context.Context) error {
	return j.reconciler.RebuildHistory(ctx)
}

// RetentionSweepJob deletes liquidation events older than the 30-day
// retention window, first consulting available disk space — a destructive
// bulk delete is skipped (and loudly logged) rather than run against a
// filesystem already critically low on space, since the delete itself
// needs WAL headroom to complete.
type RetentionSweepJob struct {
	liquidations *repository.LiquidationRepository
	dataDir      string
	clock        func() time.Time
	log          zerolog.Logger
}

// NewRetentionSweepJob builds a RetentionSweepJob. dataDir is the
// filesystem path the disk-space guard statfs's before deleting.
func NewRetentionSweepJob(liquidations *repository.LiquidationRepository, dataDir string, log zerolog.Logger) *RetentionSweepJob {
	return &RetentionSweepJob{liquidations: liquidations, dataDir: dataDir, clock: time.Now, log: log.With().Str("job", "retention_sweep").Logger()}
}

func (j *RetentionSweepJob) Name() string { return "retention_sweep" }

func (j *RetentionSweepJob) Run(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("disk usage check failed, proceeding without it")
	} else {
		availableGB := float64(usage.Free) / 1e9
		if availableGB < diskSpaceCriticalGB {
			j.log.Error().Float64("available_gb", availableGB).Msg("critical disk space, skipping retention delete")
			return nil
		}
		if availableGB < diskSpaceWarningGB {
			j.log.Warn().Float64("available_gb", availableGB).Msg("low disk space")
		}
	}

	cutoff := j.clock().Add(-liquidationRetention)
	deleted, err := j.liquidations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("retention sweep deleted expired liquidations")
	}
	return nil
}
