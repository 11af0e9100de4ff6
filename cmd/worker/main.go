package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/db"
	"github.com/fundsafe/backend/internal/events"
	"github.com/fundsafe/backend/internal/repositories"
	"github.com/fundsafe/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "fundsafe-worker", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "fundsafe-worker", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	clk := clock.Real()
	publisher := events.NewRedisPublisher(rdb, log)
	complianceService := services.NewComplianceService(
		repositories.NewEscrowRepo(pool),
		services.NewComplianceHTTPClient(cfg.ComplianceServiceURL, cfg.ComplianceTimeout, log),
		nil,
		services.NewRedisStatusCache(rdb),
		publisher,
		clk,
		cfg.ComplianceStatusTTL,
		log,
	)

	log.Info("worker started", zap.Duration("compliance_sync_every", cfg.ComplianceSyncEvery))

	syncTicker := time.NewTicker(cfg.ComplianceSyncEvery)
	defer syncTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runComplianceSync(ctx, complianceService, cfg.ComplianceSyncBatch, log)
	for {
		select {
		case <-syncTicker.C:
			runComplianceSync(ctx, complianceService, cfg.ComplianceSyncBatch, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runComplianceSync(ctx context.Context, svc *services.ComplianceService, batch int, log *zap.Logger) {
	start := time.Now()
	changed, err := svc.SyncStatuses(ctx, batch)
	if err != nil {
		log.Error("compliance sync failed", zap.Error(err))
		return
	}
	log.Info("compliance sync done", zap.Int("changed", changed), zap.Duration("took", time.Since(start)))
}
