package dimensions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"webstats/internal/dimensions"
	"webstats/internal/testsupport"
)

func TestResolveCreatesThenReuses(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	resolver := dimensions.NewResolver(db, logger)

	id1, err := dimensions.Resolve[dimensions.Country](resolver,
		dimensions.CacheKey("countries", "DE"),
		map[string]any{"code": "DE"},
		&dimensions.Country{Code: "DE", Name: "Germany"},
	)
	require.NoError(t, err)
	require.NotZero(t, id1)

	// Same key on a fresh resolver hits the database row, not a new insert.
	id2, err := dimensions.Resolve[dimensions.Country](dimensions.NewResolver(db, logger),
		dimensions.CacheKey("countries", "DE"),
		map[string]any{"code": "DE"},
		&dimensions.Country{Code: "DE", Name: "Germany"},
	)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int64
	require.NoError(t, db.Model(&dimensions.Country{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveDistinctKeysGetDistinctIDs(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	resolver := dimensions.NewResolver(dbManager.GetConnection(), logger)

	de, err := dimensions.Resolve[dimensions.Country](resolver,
		dimensions.CacheKey("countries", "DE"),
		map[string]any{"code": "DE"},
		&dimensions.Country{Code: "DE", Name: "Germany"},
	)
	require.NoError(t, err)

	fr, err := dimensions.Resolve[dimensions.Country](resolver,
		dimensions.CacheKey("countries", "FR"),
		map[string]any{"code": "FR"},
		&dimensions.Country{Code: "FR", Name: "France"},
	)
	require.NoError(t, err)

	assert.NotEqual(t, de, fr)
}

func TestResolveCacheShortCircuitsWithinInvocation(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	resolver := dimensions.NewResolver(db, logger)

	first, err := dimensions.Resolve[dimensions.Referrer](resolver,
		dimensions.CacheKey("referrers", "google.com"),
		map[string]any{"domain": "google.com"},
		&dimensions.Referrer{Domain: "google.com", Name: "Google"},
	)
	require.NoError(t, err)

	// Delete behind the resolver's back; the cached id must still win.
	require.NoError(t, db.Where("id = ?", first).Delete(&dimensions.Referrer{}).Error)

	again, err := dimensions.Resolve[dimensions.Referrer](resolver,
		dimensions.CacheKey("referrers", "google.com"),
		map[string]any{"domain": "google.com"},
		&dimensions.Referrer{Domain: "google.com", Name: "Google"},
	)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestResolveCityScopedByCountry(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	resolver := dimensions.NewResolver(db, logger)

	de, err := dimensions.Resolve[dimensions.Country](resolver,
		dimensions.CacheKey("countries", "DE"),
		map[string]any{"code": "DE"},
		&dimensions.Country{Code: "DE", Name: "Germany"},
	)
	require.NoError(t, err)

	us, err := dimensions.Resolve[dimensions.Country](resolver,
		dimensions.CacheKey("countries", "US"),
		map[string]any{"code": "US"},
		&dimensions.Country{Code: "US", Name: "United States"},
	)
	require.NoError(t, err)

	// Same city name under two countries must become two rows.
	berlinDE, err := dimensions.Resolve[dimensions.City](resolver,
		dimensions.CacheKey("cities", "DE", "Berlin"),
		map[string]any{"country_id": de, "name": "Berlin"},
		&dimensions.City{CountryID: de, Name: "Berlin"},
	)
	require.NoError(t, err)

	berlinUS, err := dimensions.Resolve[dimensions.City](resolver,
		dimensions.CacheKey("cities", "US", "Berlin"),
		map[string]any{"country_id": us, "name": "Berlin"},
		&dimensions.City{CountryID: us, Name: "Berlin"},
	)
	require.NoError(t, err)

	assert.NotEqual(t, berlinDE, berlinUS)
}

func TestResolveRefetchesAfterDuplicateInsert(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	// Lose the find-or-create race for real: a create hook commits the same
	// row through a second connection after the resolver's lookup miss but
	// before its own insert, so the insert hits the unique index and the
	// resolver must re-fetch the committed row instead of failing.
	var raced bool
	err := db.Callback().Create().Before("gorm:create").Register("race_device_browser", func(tx *gorm.DB) {
		if raced || tx.Statement.Table != "device_browsers" {
			return
		}
		raced = true
		// Plain Exec on the root handle runs autocommit on a pooled
		// connection outside the resolver's open transaction.
		require.NoError(t, db.Exec(
			"INSERT INTO device_browsers (name, created_at) VALUES (?, ?)",
			"Firefox", time.Now().UTC(),
		).Error)
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Callback().Create().Remove("race_device_browser")
	})

	resolver := dimensions.NewResolver(db, logger)
	id, err := dimensions.Resolve[dimensions.DeviceBrowser](resolver,
		dimensions.CacheKey("device_browsers", "Firefox"),
		map[string]any{"name": "Firefox"},
		&dimensions.DeviceBrowser{Name: "Firefox"},
	)
	require.NoError(t, err)
	require.True(t, raced, "create hook never fired")

	var winner dimensions.DeviceBrowser
	require.NoError(t, db.Where("name = ?", "Firefox").First(&winner).Error)
	assert.Equal(t, winner.ID, id)

	var count int64
	require.NoError(t, db.Model(&dimensions.DeviceBrowser{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveReturnsExistingRowToFreshResolver(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	existing := &dimensions.DeviceBrowser{Name: "Safari"}
	require.NoError(t, db.Create(existing).Error)

	// A resolver with an empty cache must surface the stored row, not
	// attempt a second insert.
	resolver := dimensions.NewResolver(db, logger)
	id, err := dimensions.Resolve[dimensions.DeviceBrowser](resolver,
		dimensions.CacheKey("device_browsers", "Safari"),
		map[string]any{"name": "Safari"},
		&dimensions.DeviceBrowser{Name: "Safari"},
	)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	var count int64
	require.NoError(t, db.Model(&dimensions.DeviceBrowser{}).
		Where("name = ?", "Safari").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
