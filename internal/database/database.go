package database

import (
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"webstats/internal/analytics"
	"webstats/internal/config"
	"webstats/internal/dimensions"
	"webstats/internal/params"
	"webstats/internal/sessions"
	"webstats/internal/settings"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

// DBManager wraps cartridge's sqlite.Manager with webstats-specific migration methods.
type DBManager struct {
	*sqlite.Manager
	logger *slog.Logger
}

// NewDBManager creates a new database manager using cartridge's sqlite.Manager.
func NewDBManager(cfg *config.Config, logger *slog.Logger) *DBManager {
	sqliteCfg := sqlite.Config{
		Path:         cfg.DatabaseName,
		MaxOpenConns: cfg.GetMaxOpenConns(),
		MaxIdleConns: cfg.GetMaxIdleConns(),
		Logger:       logger,
		EnableWAL:    true,
		TxImmediate:  true,
		BusyTimeout:  5000,
	}

	return &DBManager{
		Manager: sqlite.NewManager(sqliteCfg),
		logger:  logger,
	}
}

// Init initializes the database connection.
func (dm *DBManager) Init() error {
	_, err := dm.Manager.Connect()
	return err
}

// MigrateDatabase runs webstats-specific migrations.
func (dm *DBManager) MigrateDatabase() error {
	db := dm.GetConnection()
	if db == nil {
		return gorm.ErrInvalidDB
	}

	// Run migrations in a transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&settings.Setting{},
			&dimensions.Country{},
			&dimensions.City{},
			&dimensions.DeviceType{},
			&dimensions.DeviceOS{},
			&dimensions.DeviceBrowser{},
			&dimensions.DeviceBrowserVersion{},
			&dimensions.Resolution{},
			&dimensions.Language{},
			&dimensions.Timezone{},
			&dimensions.Referrer{},
			&dimensions.Resource{},
			&visitors.Visitor{},
			&sessions.Session{},
			&views.View{},
			&params.SessionParam{},
			&analytics.DailyStat{},
		)
	})
	if err != nil {
		dm.logger.Error("Failed to auto-migrate database", slog.Any("error", err))
		return err
	}

	if err := dm.CheckpointWAL("FULL"); err != nil {
		dm.logger.Warn("Failed to checkpoint WAL after migration", slog.Any("error", err))
	}

	dm.logger.Info("Database migration completed successfully")
	return nil
}
