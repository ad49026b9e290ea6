// Command server wires the counter-trade engine's components together and
// runs them until SIGINT/SIGTERM: liquidation ingestion, cascade detection,
// the strategy gate pipeline, position management, background reconciliation
// and retention jobs, and the operator HTTP control surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vantapoint/liqengine/internal/cascade"
	"github.com/vantapoint/liqengine/internal/config"
	"github.com/vantapoint/liqengine/internal/database"
	"github.com/vantapoint/liqengine/internal/database/repository"
	"github.com/vantapoint/liqengine/internal/events"
	"github.com/vantapoint/liqengine/internal/exchange"
	"github.com/vantapoint/liqengine/internal/ingress"
	"github.com/vantapoint/liqengine/internal/position"
	"github.com/vantapoint/liqengine/internal/reconcile"
	"github.com/vantapoint/liqengine/internal/reliability"
	"github.com/vantapoint/liqengine/internal/scheduler"
	"github.com/vantapoint/liqengine/internal/server"
	"github.com/vantapoint/liqengine/internal/strategy"
	"github.com/vantapoint/liqengine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode, Module: "liqengine"})

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("failed to open ledger database")
	}
	defer ledgerDB.Close()
	if err := ledgerDB.Migrate(); err != nil {
		appLog.Fatal().Err(err).Msg("failed to migrate ledger database")
	}

	stateDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "state.db"),
		Profile: database.ProfileStandard,
		Name:    "state",
	})
	if err != nil {
		appLog.Fatal().Err(err).Msg("failed to open state database")
	}
	defer stateDB.Close()
	if err := stateDB.Migrate(); err != nil {
		appLog.Fatal().Err(err).Msg("failed to migrate state database")
	}

	liquidations := repository.NewLiquidationRepository(ledgerDB)
	orders := repository.NewOrderRepository(ledgerDB)
	fills := repository.NewFillRepository(ledgerDB)
	strategyChanges := repository.NewStrategyChangeRepository(ledgerDB)
	tradeEntryErrors := repository.NewTradeEntryErrorRepository(ledgerDB)

	strategies := repository.NewStrategyRepository(stateDB)
	sessions := repository.NewSessionRepository(stateDB)
	positions := repository.NewPositionRepository(stateDB)
	income := repository.NewIncomeRepository(stateDB)

	bus := events.NewBus(appLog)
	defer bus.Close()

	exchangeClient := exchange.NewClient(exchange.Config{
		APIKey:    cfg.VenueAPIKey,
		APISecret: cfg.VenueAPISecret,
		BaseURL:   cfg.VenueBaseURL,
		Timeout:   10 * time.Second,
	}, appLog)
	defer exchangeClient.Close()

	positionManager := position.NewManager(positions, orders, fills, exchangeClient, bus, appLog)

	cascadeDetector := cascade.NewDetector(exchangeClient, strategies, bus, appLog)

	strategyEngine := strategy.NewEngine(
		strategies, sessions, positions, liquidations, orders, tradeEntryErrors,
		positionManager, exchangeClient, cascadeDetector, bus, appLog,
	)

	ingestor := ingress.NewIngestor(liquidations, bus, appLog)

	streamClient := exchange.NewStreamClient(exchange.StreamConfig{
		ForceOrderURL: cfg.ForceOrderURL,
		UserDataURL:   cfg.UserDataURL,
	}, ingestor, appLog)

	reconciler := reconcile.NewManager(
		strategies, sessions, positions, orders, fills, income,
		positionManager, exchangeClient, appLog,
	)

	sched := scheduler.New(appLog)

	if err := sched.AddJob("@every 5s", scheduler.NewExitMonitorJob(strategies, sessions, positions, positionManager, exchangeClient, appLog)); err != nil {
		appLog.Fatal().Err(err).Msg("failed to register exit monitor job")
	}
	if err := sched.AddJob("@every 30s", scheduler.NewProtectiveReconciliationJob(strategies, sessions, positions, positionManager, exchangeClient, appLog)); err != nil {
		appLog.Fatal().Err(err).Msg("failed to register protective reconciliation job")
	}
	if err := sched.AddJob("@every 1m", scheduler.NewOrphanSweepJob(reconciler)); err != nil {
		appLog.Fatal().Err(err).Msg("failed to register orphan sweep job")
	}
	if err := sched.AddJob("@every 10m", scheduler.NewRetentionSweepJob(liquidations, cfg.DataDir, appLog)); err != nil {
		appLog.Fatal().Err(err).Msg("failed to register retention sweep job")
	}

	historicalRebuildJob := scheduler.NewHistoricalRebuildJob(reconciler)
	if err := sched.AddJob("@every 6h", historicalRebuildJob); err != nil {
		appLog.Fatal().Err(err).Msg("failed to register historical rebuild job")
	}

	var backupJob *reliability.BackupJob
	if cfg.Backup.Enabled {
		snapshotter := reliability.NewSnapshotter(map[string]*database.DB{
			"ledger": ledgerDB,
			"state":  stateDB,
		}, cfg.DataDir, appLog)

		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:        cfg.Backup.Endpoint,
			Region:          cfg.Backup.Region,
			Bucket:          cfg.Backup.Bucket,
			AccessKeyID:     cfg.Backup.AccessKeyID,
			SecretAccessKey: cfg.Backup.SecretAccessKey,
		})
		if err != nil {
			appLog.Fatal().Err(err).Msg("failed to build backup S3 client")
		}

		backupJob = reliability.NewBackupJob(snapshotter, s3Client, cfg.DataDir, cfg.Backup.RetentionDays, appLog)
		if err := sched.AddJob("@every 1h", backupJob); err != nil {
			appLog.Fatal().Err(err).Msg("failed to register backup job")
		}
	} else {
		appLog.Info().Msg("backups disabled: BACKUP_S3_BUCKET not set")
	}

	httpServer := server.New(server.Config{
		Port:             cfg.Port,
		Log:              appLog,
		DevMode:          cfg.DevMode,
		EmergencyStopPIN: cfg.EmergencyStopPIN,
		Strategies:       strategies,
		Sessions:         sessions,
		Positions:        positions,
		Orders:           orders,
		Changes:          strategyChanges,
		Exchange:         exchangeClient,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cascadeDetector.Start(ctx)
	strategyEngine.Start(ctx)
	streamClient.Start()
	sched.Start(ctx)

	go func() {
		appLog.Info().Int("port", cfg.Port).Msg("starting operator HTTP server")
		if err := httpServer.Start(); err != nil {
			appLog.Error().Err(err).Msg("operator HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info().Msg("shutting down")
	cancel()

	sched.Stop()
	strategyEngine.Stop()
	cascadeDetector.Stop()
	streamClient.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error().Err(err).Msg("operator HTTP server forced to shutdown")
	}

	appLog.Info().Msg("shutdown complete")
}
