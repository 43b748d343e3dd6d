package testsupport

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"webstats/internal/analytics"
	"webstats/internal/config"
	"webstats/internal/dimensions"
	"webstats/internal/params"
	"webstats/internal/sessions"
	"webstats/internal/settings"
	"webstats/internal/views"
	"webstats/internal/visitors"

	"io"
	"os"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with the webstats interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// CheckpointWAL is a no-op: test databases are in-memory and have no WAL.
func (m *TestDBManager) CheckpointWAL(checkpointType string) error { return nil }

// allModels returns all webstats models for migration
func allModels() []any {
	return []any{
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
	}
}

// SetupTestDB creates a test database with all webstats models migrated.
// Uses a named in-memory database with cache=shared so multiple connections
// within a test share the same database. Caches the database by root test
// name so subtests reuse it.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// GetTestConfig installs and returns a config suitable for tests.
func GetTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{
		AppName:            "webstats",
		AppPort:            "0",
		Environment:        config.Test,
		LogLevel:           config.LogLevelError,
		SiteURL:            "https://example.com",
		TrackVisitors:      true,
		TrackGeo:           true,
		TrackDevices:       true,
		TrackReferrers:     true,
		ReportingTimezone:  "UTC",
		StoragePath:        t.TempDir(),
		BackupDirectory:    t.TempDir(),
		JobIntervalSeconds: 3600,
		RetentionMode:      config.RetentionForever,
		RetentionDays:      90,
		BackupsToKeep:      5,
	}
	config.SetTestConfig(cfg)
	return cfg
}

// CleanTables deletes rows from the given tables, or from every non-system
// table when none are given.
func CleanTables(db *gorm.DB, tables []string) {
	if len(tables) == 0 {
		db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables)
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger that only surfaces errors
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// GetSilentLogger returns a logger that discards everything
func GetSilentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// CreateTestVisitor inserts a visitor row with a synthetic hash
func CreateTestVisitor(t *testing.T, db *gorm.DB, hash string, createdAt time.Time) *visitors.Visitor {
	t.Helper()

	v := &visitors.Visitor{Hash: hash, CreatedAt: createdAt}
	require.NoError(t, db.Create(v).Error)
	return v
}

// CreateTestSession inserts a session row for the given visitor
func CreateTestSession(t *testing.T, db *gorm.DB, visitorID uint, startedAt time.Time) *sessions.Session {
	t.Helper()

	s := &sessions.Session{
		VisitorID:  visitorID,
		StartedAt:  startedAt,
		TotalViews: 1,
	}
	require.NoError(t, db.Create(s).Error)
	return s
}

// CreateTestView inserts a view row for the given session
func CreateTestView(t *testing.T, db *gorm.DB, sessionID, resourceID uint, viewedAt time.Time) *views.View {
	t.Helper()

	v := &views.View{
		SessionID:  sessionID,
		ResourceID: resourceID,
		ViewedAt:   viewedAt,
	}
	require.NoError(t, db.Create(v).Error)
	return v
}

// CreateTestResource resolves a resource dimension row for a URI
func CreateTestResource(t *testing.T, db *gorm.DB, uri string) *dimensions.Resource {
	t.Helper()

	r := &dimensions.Resource{URI: uri}
	require.NoError(t, db.Where(dimensions.Resource{URI: uri}).FirstOrCreate(r).Error)
	return r
}
