package http

import (
	"time"

	"github.com/fundsafe/backend/internal/config"
	"github.com/fundsafe/backend/internal/http/handlers"
	"github.com/fundsafe/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Escrow     *handlers.EscrowHandler
	Compliance *handlers.ComplianceHandler
	Tac        *handlers.TacHandler
	WS         *handlers.WSHub
}

// SetupRouter registers every route. rdb may be nil, which disables rate
// limiting; ws may be nil, which disables /ws.
func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSAllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1", middleware.AuthMiddleware(cfg, log))
	if rdb != nil {
		api.Use(middleware.RateLimitMiddleware(rdb, cfg.RateLimitPerMinute, time.Minute, log))
	}

	// Escrows
	api.Post("/escrows", h.Escrow.CreateEscrow)
	api.Get("/escrows", h.Escrow.ListEscrows)
	api.Get("/escrows/:id", h.Escrow.GetEscrow)
	api.Patch("/escrows/:id", h.Escrow.UpdateEscrow)
	api.Get("/escrows/:id/logs", h.Escrow.GetLogs)
	api.Post("/escrows/:id/fund", h.Escrow.FundEscrow)
	api.Post("/escrows/:id/release-request", h.Escrow.RequestRelease)
	api.Post("/escrows/:id/release", h.Escrow.ReleaseEscrow)
	api.Post("/escrows/:id/dispute", h.Escrow.OpenDispute)
	api.Post("/escrows/:id/dispute/resolve", middleware.AdminMiddleware(), h.Escrow.ResolveDispute)
	api.Post("/escrows/:id/cancel", h.Escrow.CancelEscrow)
	api.Post("/escrows/:id/refund", h.Escrow.RefundEscrow)

	// Compliance
	api.Post("/escrows/:id/compliance/escalate", h.Compliance.Escalate)
	api.Post("/escrows/:id/compliance/verify-tac", h.Compliance.VerifyTAC)
	api.Get("/escrows/:id/compliance", h.Compliance.GetStatus)

	// TAC
	api.Post("/tac", h.Tac.Issue)
	api.Post("/tac/verify", h.Tac.Verify)

	if h.WS != nil {
		app.Use("/ws", handlers.WSUpgradeMiddleware())
		app.Get("/ws", websocket.New(h.WS.HandleWS))
	}
}
