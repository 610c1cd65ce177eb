package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/config"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/incident-desk/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	reportHandler *handlers.ReportHandler,
	threadHandler *handlers.ThreadHandler,
	logHandler *handlers.LogHandler,
) {
	api := app.Group("/api")

	// Public
	api.Get("/health", healthHandler.Check)
	api.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Everything below needs a verified caller.
	protected := api.Group("", middleware.JWTProtected(cfg), limiter.New(limiter.Config{
		Max:               cfg.RateLimitRPM,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	reviewer := middleware.RequireRole(models.RoleReviewer)

	reports := protected.Group("/reports")
	reports.Post("/", middleware.RequireRole(models.RoleReporter), reportHandler.Create)
	reports.Get("/", reportHandler.List)
	reports.Get("/summary", reviewer, reportHandler.Summary)
	reports.Get("/:id", reportHandler.Get)

	// Thread
	reports.Get("/:id/messages", threadHandler.List)
	reports.Post("/:id/messages", threadHandler.Post)
	reports.Get("/:id/stream", threadHandler.Stream)

	// Reviewer lifecycle actions
	reports.Post("/:id/start", reviewer, threadHandler.Start)
	reports.Post("/:id/resolve", reviewer, threadHandler.Resolve)

	admin := protected.Group("/admin", reviewer)
	admin.Get("/logs", logHandler.List)
}
