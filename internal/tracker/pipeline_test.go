package tracker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webstats/internal/params"
	"webstats/internal/pkg/geoip"
	"webstats/internal/sessions"
	"webstats/internal/settings"
	"webstats/internal/testsupport"
	"webstats/internal/tracker"
	"webstats/internal/views"
	"webstats/internal/visitors"
)

const chromeDesktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type stubGeo struct {
	location  geoip.Location
	available bool
}

func (s stubGeo) Available() bool                 { return s.available }
func (s stubGeo) Lookup(ip string) geoip.Location { return s.location }

func setupPipeline(t *testing.T, geo tracker.GeoLocator) (*tracker.Pipeline, *testsupport.TestDBManager) {
	t.Helper()

	cfg := testsupport.GetTestConfig(t)
	dbManager, logger := testsupport.SetupTestDBManager(t)
	require.NoError(t, settings.SetupDefaultSettings(dbManager.GetConnection()))

	return tracker.NewPipeline(dbManager, logger, cfg, geo), dbManager
}

func profileAt(now time.Time, rawURL string) *tracker.Profile {
	return &tracker.Profile{
		IP:        "203.0.113.7",
		UserAgent: chromeDesktopUA,
		RawURL:    rawURL,
		ScreenW:   1920,
		ScreenH:   1080,
		Language:  "en-US",
		Timezone:  "Europe/Berlin",
		Now:       now,
	}
}

func TestRecordFirstPageview(t *testing.T) {
	geo := stubGeo{available: true, location: geoip.Location{CountryCode: "DE", City: "Berlin"}}
	pipeline, dbManager := setupPipeline(t, geo)
	db := dbManager.GetConnection()

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	outcomes := pipeline.Record(profileAt(now, "https://example.com/pricing?utm_source=newsletter"))

	for _, step := range []tracker.Step{
		tracker.StepVisitor, tracker.StepResource, tracker.StepDevice,
		tracker.StepGeo, tracker.StepLocale, tracker.StepResolution,
		tracker.StepSession, tracker.StepParams, tracker.StepView,
	} {
		outcome, ok := tracker.Find(outcomes, step)
		require.True(t, ok, "missing outcome for %s", step)
		require.NoError(t, outcome.Err, "step %s failed", step)
		assert.False(t, outcome.Skipped, "step %s skipped: %s", step, outcome.Reason)
	}

	var visitorCount, sessionCount, viewCount int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Count(&visitorCount).Error)
	require.NoError(t, db.Model(&sessions.Session{}).Count(&sessionCount).Error)
	require.NoError(t, db.Model(&views.View{}).Count(&viewCount).Error)
	assert.Equal(t, int64(1), visitorCount)
	assert.Equal(t, int64(1), sessionCount)
	assert.Equal(t, int64(1), viewCount)

	var session sessions.Session
	require.NoError(t, db.First(&session).Error)
	assert.NotZero(t, session.CountryID)
	assert.NotZero(t, session.CityID)
	assert.NotZero(t, session.DeviceTypeID)
	assert.NotZero(t, session.DeviceBrowserID)
	assert.NotZero(t, session.ResolutionID)
	require.NotNil(t, session.InitialViewID)

	var paramRows []params.SessionParam
	require.NoError(t, db.Find(&paramRows).Error)
	require.Len(t, paramRows, 1)
	assert.Equal(t, "utm_source", paramRows[0].Name)
	assert.Equal(t, "newsletter", paramRows[0].Value)
}

func TestRecordSameDayContinuesSession(t *testing.T) {
	pipeline, dbManager := setupPipeline(t, stubGeo{})
	db := dbManager.GetConnection()

	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	first := pipeline.Record(profileAt(now, "https://example.com/?utm_source=ads"))
	second := pipeline.Record(profileAt(now.Add(5*time.Minute), "https://example.com/pricing?utm_source=other"))

	firstSession, _ := tracker.Find(first, tracker.StepSession)
	secondSession, _ := tracker.Find(second, tracker.StepSession)
	require.NoError(t, firstSession.Err)
	require.NoError(t, secondSession.Err)
	assert.Equal(t, firstSession.ID, secondSession.ID)

	// Attribution is first-touch: the continuing view must not write params.
	paramsOutcome, _ := tracker.Find(second, tracker.StepParams)
	assert.True(t, paramsOutcome.Skipped)
	assert.Equal(t, tracker.SkipContinuation, paramsOutcome.Reason)

	var session sessions.Session
	require.NoError(t, db.First(&session, firstSession.ID).Error)
	assert.Equal(t, uint(2), session.TotalViews)

	var paramRows []params.SessionParam
	require.NoError(t, db.Find(&paramRows).Error)
	require.Len(t, paramRows, 1)
	assert.Equal(t, "ads", paramRows[0].Value)

	// The view chain closed the first view's dwell time.
	var allViews []views.View
	require.NoError(t, db.Order("id ASC").Find(&allViews).Error)
	require.Len(t, allViews, 2)
	require.NotNil(t, allViews[0].DurationMs)
	assert.Equal(t, int64(5*60*1000), *allViews[0].DurationMs)
	assert.Nil(t, allViews[1].DurationMs)
}

func TestRecordSkipsBots(t *testing.T) {
	pipeline, dbManager := setupPipeline(t, stubGeo{})
	db := dbManager.GetConnection()

	p := profileAt(time.Now(), "https://example.com/")
	p.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
	outcomes := pipeline.Record(p)

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
	assert.Equal(t, tracker.SkipBot, outcomes[0].Reason)

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecordSkipsExcludedIPs(t *testing.T) {
	pipeline, dbManager := setupPipeline(t, stubGeo{})
	db := dbManager.GetConnection()
	require.NoError(t, settings.CreateOrUpdateSetting(db, settings.KeyExcludedIPs, "203.0.113.7"))

	outcomes := pipeline.Record(profileAt(time.Now(), "https://example.com/"))

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
	assert.Equal(t, tracker.SkipExcludedIP, outcomes[0].Reason)
}

func TestRecordGeoUnavailableDegrades(t *testing.T) {
	pipeline, dbManager := setupPipeline(t, stubGeo{available: false})
	db := dbManager.GetConnection()

	outcomes := pipeline.Record(profileAt(time.Now(), "https://example.com/"))

	geoOutcome, ok := tracker.Find(outcomes, tracker.StepGeo)
	require.True(t, ok)
	assert.True(t, geoOutcome.Skipped)

	// Geo being down must not block the session and view.
	viewOutcome, ok := tracker.Find(outcomes, tracker.StepView)
	require.True(t, ok)
	require.NoError(t, viewOutcome.Err)
	assert.False(t, viewOutcome.Skipped)

	var session sessions.Session
	require.NoError(t, db.First(&session).Error)
	assert.Zero(t, session.CountryID)
}

func TestRecordSelfReferralSkipsReferrer(t *testing.T) {
	pipeline, _ := setupPipeline(t, stubGeo{})

	p := profileAt(time.Now(), "https://example.com/pricing")
	p.ReferrerURL = "https://example.com/"
	outcomes := pipeline.Record(p)

	referrerOutcome, ok := tracker.Find(outcomes, tracker.StepReferrer)
	require.True(t, ok)
	assert.True(t, referrerOutcome.Skipped)
}

func TestRecordExternalReferrerResolved(t *testing.T) {
	pipeline, dbManager := setupPipeline(t, stubGeo{})
	db := dbManager.GetConnection()

	p := profileAt(time.Now(), "https://example.com/pricing")
	p.ReferrerURL = "https://www.google.com/search?q=webstats"
	outcomes := pipeline.Record(p)

	referrerOutcome, ok := tracker.Find(outcomes, tracker.StepReferrer)
	require.True(t, ok)
	require.NoError(t, referrerOutcome.Err)
	assert.False(t, referrerOutcome.Skipped)

	var session sessions.Session
	require.NoError(t, db.First(&session).Error)
	assert.Equal(t, referrerOutcome.ID, session.ReferrerID)
}
