package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fundsafe/backend/internal/clock"
	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/db"
	"github.com/fundsafe/backend/internal/events"
	apphttp "github.com/fundsafe/backend/internal/http"
	"github.com/fundsafe/backend/internal/http/handlers"
	"github.com/fundsafe/backend/internal/repositories"
	"github.com/fundsafe/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "fundsafe-api", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, os.DirFS(cfg.MigrationsDir), log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "fundsafe-api", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	tacRepo := repositories.NewTacRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	clk := clock.Real()
	notifier := services.NewEventNotifier(publisher, log)
	complianceClient := services.NewComplianceHTTPClient(cfg.ComplianceServiceURL, cfg.ComplianceTimeout, log)
	statusCache := services.NewRedisStatusCache(rdb)
	tacService := services.NewTacService(tacRepo, notifier, clk, cfg.TacTTL, log)
	complianceService := services.NewComplianceService(escrowRepo, complianceClient, tacService, statusCache, publisher, clk, cfg.ComplianceStatusTTL, log)
	escrowService := services.NewEscrowService(escrowRepo, complianceService, cfg.Policy(), publisher, notifier, clk, log)

	// Handlers
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal("failed to subscribe ws hub", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(log),
	})

	apphttp.SetupRouter(app, cfg, log, rdb, apphttp.Handlers{
		Escrow:     handlers.NewEscrowHandler(escrowService, log),
		Compliance: handlers.NewComplianceHandler(complianceService, log),
		Tac:        handlers.NewTacHandler(tacService, log),
		WS:         wsHub,
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
