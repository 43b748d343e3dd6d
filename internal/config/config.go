// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Retention modes
const (
	RetentionForever = "forever"
	RetentionDelete  = "delete"
	RetentionArchive = "archive"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	SiteURL     string   `mapstructure:"siteurl"`

	// Tracking feature flags
	TrackVisitors  bool `mapstructure:"trackvisitors"`
	TrackGeo       bool `mapstructure:"trackgeo"`
	TrackDevices   bool `mapstructure:"trackdevices"`
	TrackReferrers bool `mapstructure:"trackreferrers"`

	// Session day-boundary semantics are evaluated in this timezone
	ReportingTimezone string `mapstructure:"reportingtimezone"`

	// File paths
	StoragePath     string `mapstructure:"storagepath"`
	DatabaseName    string `mapstructure:"-"` // Derived from StoragePath
	GeoDBPath       string `mapstructure:"geodbpath"`
	BackupDirectory string `mapstructure:"backupdir"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Job scheduling settings
	SchedulingEnabled  bool `mapstructure:"schedulingenabled"`
	JobIntervalSeconds int  `mapstructure:"jobintervalseconds"`

	// Data retention settings
	RetentionMode string `mapstructure:"retentionmode"`
	RetentionDays int    `mapstructure:"retentiondays"`
	BackupsToKeep int    `mapstructure:"backupstokeep"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "webstats")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("siteurl", "http://localhost:3000")
		v.SetDefault("trackvisitors", true)
		v.SetDefault("trackgeo", true)
		v.SetDefault("trackdevices", true)
		v.SetDefault("trackreferrers", true)
		v.SetDefault("reportingtimezone", "UTC")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("backupdir", "storage/backups")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("schedulingenabled", true)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("retentionmode", RetentionForever)
		v.SetDefault("retentiondays", 180)
		v.SetDefault("backupstokeep", 5)

		// Bind environment variables
		v.BindEnv("appname", "WEBSTATS_APP_NAME")
		v.BindEnv("appport", "WEBSTATS_APP_PORT")
		v.BindEnv("environment", "WEBSTATS_ENV")
		v.BindEnv("loglevel", "WEBSTATS_LOG_LEVEL")
		v.BindEnv("siteurl", "WEBSTATS_SITE_URL")
		v.BindEnv("trackvisitors", "WEBSTATS_TRACK_VISITORS")
		v.BindEnv("trackgeo", "WEBSTATS_TRACK_GEO")
		v.BindEnv("trackdevices", "WEBSTATS_TRACK_DEVICES")
		v.BindEnv("trackreferrers", "WEBSTATS_TRACK_REFERRERS")
		v.BindEnv("reportingtimezone", "WEBSTATS_REPORTING_TIMEZONE")
		v.BindEnv("storagepath", "WEBSTATS_STORAGE_PATH")
		v.BindEnv("geodbpath", "WEBSTATS_GEO_DB_PATH")
		v.BindEnv("backupdir", "WEBSTATS_BACKUP_DIR")
		v.BindEnv("logsdir", "WEBSTATS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "WEBSTATS_LOGS_MAX_SIZE_MB")
		v.BindEnv("logsmaxbackups", "WEBSTATS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "WEBSTATS_LOGS_MAX_AGE_DAYS")
		v.BindEnv("dbmaxopenconns", "WEBSTATS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "WEBSTATS_DB_MAX_IDLE_CONNS")
		v.BindEnv("schedulingenabled", "WEBSTATS_SCHEDULING_ENABLED")
		v.BindEnv("jobintervalseconds", "WEBSTATS_JOB_INTERVAL_SECONDS")
		v.BindEnv("retentionmode", "WEBSTATS_RETENTION_MODE")
		v.BindEnv("retentiondays", "WEBSTATS_RETENTION_DAYS")
		v.BindEnv("backupstokeep", "WEBSTATS_BACKUPS_TO_KEEP")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("Failed to unmarshal config: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("Invalid configuration: %v", err)
		}

		cfg.DatabaseName = filepath.Join(cfg.StoragePath, cfg.AppName+".db")
	})
	return cfg
}

func (c *Config) validate() error {
	switch c.RetentionMode {
	case RetentionForever, RetentionDelete, RetentionArchive:
	default:
		return fmt.Errorf("unknown retention mode %q", c.RetentionMode)
	}
	if c.RetentionMode != RetentionForever && c.RetentionDays < 1 {
		return fmt.Errorf("retentiondays must be >= 1, got %d", c.RetentionDays)
	}
	if _, err := time.LoadLocation(c.ReportingTimezone); err != nil {
		return fmt.Errorf("invalid reporting timezone %q: %w", c.ReportingTimezone, err)
	}
	return nil
}

// IsProduction returns true when running in the production environment
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true when running in the test environment
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// ReportingLocation returns the timezone used for day-boundary calculations.
// The value is validated at startup.
func (c *Config) ReportingLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportingTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetMaxOpenConns returns the configured max open connections
func (c *Config) GetMaxOpenConns() int {
	return c.DatabaseMaxOpenConns
}

// GetMaxIdleConns returns the configured max idle connections
func (c *Config) GetMaxIdleConns() int {
	return c.DatabaseMaxIdleConns
}

// SetTestConfig replaces the singleton config. Tests only.
func SetTestConfig(c *Config) {
	once.Do(func() {})
	cfg = c
}
