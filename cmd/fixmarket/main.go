package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"fixmarket/internal/config"
	"fixmarket/internal/domain"
	"fixmarket/internal/http/handlers"
	applog "fixmarket/internal/log"
	"fixmarket/internal/repos"
)

func main() {
	cfg := config.Load()

	// Optional file logging
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Printf("[warn] could not open log file %s: %v", cfg.LogFile, err)
		} else {
			mw := io.MultiWriter(os.Stdout, f)
			log.SetOutput(mw)
		}
	}

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			applog.Error(c, "server.error", err, nil)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
		},
	})
	app.Server().MaxRequestBodySize = 1 << 20 // 1 MiB

	// ---------- Middlewares ----------
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(helmet.New())

	deps := handlers.NewDeps(db, cfg)

	// ---------- API ----------
	api := app.Group("/api/v1", handlers.RequireActor())

	writeLimiter := limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.Get("X-Actor-Id") + "|write"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.write.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	})

	// Commands. Customer-side and provider-side commands are role-gated;
	// payment resolution takes either party.
	asCustomer := handlers.RequireRole(domain.RoleCustomer)
	asProvider := handlers.RequireRole(domain.RoleProvider)
	api.Post("/requests", writeLimiter, asCustomer, deps.RequestHandler.Create)
	api.Post("/requests/:id/cancel", writeLimiter, asCustomer, deps.RequestHandler.Cancel)
	api.Post("/requests/:id/offers", writeLimiter, asProvider, deps.OfferHandler.Submit)
	api.Post("/requests/:id/offers/:offerID/accept", writeLimiter, asCustomer, deps.OfferHandler.Accept)
	api.Post("/requests/:id/offers/:offerID/reject", writeLimiter, asCustomer, deps.OfferHandler.Reject)
	api.Post("/requests/:id/offers/:offerID/advance", writeLimiter, asProvider, deps.WorkflowHandler.Advance)
	api.Post("/offers/:id/confirm-payment", writeLimiter, deps.WorkflowHandler.ConfirmPayment)
	api.Post("/offers/:id/dispute-payment", writeLimiter, deps.WorkflowHandler.DisputePayment)

	// Queries
	api.Get("/requests/:id", deps.RequestHandler.Get)
	api.Get("/requests/:id/offers", deps.OfferHandler.List)
	api.Get("/categories/:id/requests", deps.RequestHandler.ListForCategory)
	api.Get("/customers/:id/active-request", deps.RequestHandler.ActiveForCustomer)
	api.Get("/providers/:id/offers", deps.OfferHandler.ListForProvider)
	api.Get("/stats", deps.RequestHandler.Stats)

	// Realtime fan-out (polling fallback is the query API above)
	app.Get("/ws", deps.WSHandler.UpgradeGuard(), deps.WSHandler.Serve())

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })

	// ---------- Expiry sweep ----------
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go deps.Expiry.Run(ctx)

	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}
