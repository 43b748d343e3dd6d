// Package internal contains core application functionality
package internal

import (
	"fmt"
	"net"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"

	"webstats/internal/config"
	"webstats/internal/database"
	"webstats/internal/jobs"
	"webstats/internal/logging"
	"webstats/internal/pkg/geoip"
	"webstats/internal/settings"
	"webstats/internal/tracker"
)

// Application bundles the server, database, scheduler and the recording
// pipeline behind one lifecycle.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Pipeline  *tracker.Pipeline
	Scheduler *jobs.Scheduler
	Geo       *geoip.Locator

	fiber *fiber.App
}

// NewApp creates a new application instance with the singleton config.
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := logging.NewLogger(cfg)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := settings.SetupDefaultSettings(dbManager.GetConnection()); err != nil {
		return nil, fmt.Errorf("failed to seed default settings: %w", err)
	}

	geo := geoip.NewLocator(cfg.GeoDBPath, logger)
	pipeline := tracker.NewPipeline(dbManager, logger, cfg, geo)
	scheduler := jobs.NewScheduler(dbManager, logger, cfg)

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: cfg.IsProduction(),
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
	})

	MountRoutes(app, dbManager, pipeline, scheduler.Maintainer(), logger, cfg)

	return &Application{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Geo:       geo,
		fiber:     app,
	}, nil
}

// Fiber exposes the underlying app, mainly for tests.
func (a *Application) Fiber() *fiber.App {
	return a.fiber
}

// Start runs the scheduler and serves HTTP. It blocks until the listener
// stops.
func (a *Application) Start() error {
	if a.Config.SchedulingEnabled {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	addr := net.JoinHostPort("", a.Config.AppPort)
	a.Logger.Info("Starting HTTP server", slog.String("addr", addr))
	return a.fiber.Listen(addr)
}

// Shutdown stops the HTTP listener, background jobs and closes shared
// resources.
func (a *Application) Shutdown() error {
	a.Logger.Info("Shutting down")

	var firstErr error
	if err := a.fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		firstErr = err
	}

	a.Scheduler.Stop()
	a.Geo.Close()

	if err := a.DBManager.CheckpointWAL("TRUNCATE"); err != nil {
		a.Logger.Warn("Failed to checkpoint WAL on shutdown", slog.Any("error", err))
	}

	return firstErr
}
