package internal

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"

	"webstats/internal/config"
	"webstats/internal/http"
	"webstats/internal/retention"
	"webstats/internal/tracker"

	"log/slog"
)

// publicCORSConfig is shared by the public collect endpoint. Tracking
// requests come from arbitrary origins, so CORS is fully permissive there.
var publicCORSConfig = cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountRoutes registers all HTTP endpoints on the fiber app.
func MountRoutes(
	app *fiber.App,
	dbManager cartridge.DBManager,
	pipeline *tracker.Pipeline,
	maintainer *retention.Maintainer,
	logger *slog.Logger,
	cfg *config.Config,
) {
	hits := http.NewHitHandler(pipeline, logger)
	stats := http.NewStatsHandler(dbManager, logger, cfg)
	admin := http.NewAdminHandler(dbManager, maintainer, logger, cfg)
	health := http.NewHealthHandler(dbManager)

	app.Get("/healthz", health.Check)
	app.Head("/healthz", health.Check)

	// Public collect endpoint
	public := app.Group("/api/v1", cors.New(publicCORSConfig))
	public.Post("/hit", hits.Handle)
	public.Options("/hit", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	// Read API
	app.Get("/api/v1/stats/summary", stats.Summary)

	// Token-protected maintenance surface
	adminGroup := app.Group("/api/v1/admin", admin.RequireToken)
	adminGroup.Post("/purge", admin.Purge)
	adminGroup.Get("/backups", admin.ListBackups)
	adminGroup.Post("/restore", admin.Restore)
}
