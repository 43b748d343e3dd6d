package views_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webstats/internal/testsupport"
	"webstats/internal/views"
)

func TestRecordFirstViewHasNoChainYet(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-1", time.Now().UTC())
	session := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())
	home := testsupport.CreateTestResource(t, db, "/")

	recorder := views.NewRecorder(db, logger)
	result, err := recorder.Record(session.ID, home.ID, time.Now())
	require.NoError(t, err)
	require.NotZero(t, result.ViewID)
	assert.Nil(t, result.PrevViewID)

	var view views.View
	require.NoError(t, db.First(&view, result.ViewID).Error)
	assert.Nil(t, view.NextViewID)
	assert.Nil(t, view.DurationMs)
}

func TestRecordChainsViewsAndBackfillsDuration(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-2", time.Now().UTC())
	session := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())
	home := testsupport.CreateTestResource(t, db, "/")
	pricing := testsupport.CreateTestResource(t, db, "/pricing")

	recorder := views.NewRecorder(db, logger)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	first, err := recorder.Record(session.ID, home.ID, start)
	require.NoError(t, err)

	second, err := recorder.Record(session.ID, pricing.ID, start.Add(time.Minute))
	require.NoError(t, err)

	require.NotNil(t, second.PrevViewID)
	assert.Equal(t, first.ViewID, *second.PrevViewID)
	require.NotNil(t, second.PrevDurationMs)
	assert.Equal(t, int64(60_000), *second.PrevDurationMs)

	var prev views.View
	require.NoError(t, db.First(&prev, first.ViewID).Error)
	require.NotNil(t, prev.NextViewID)
	assert.Equal(t, second.ViewID, *prev.NextViewID)
	require.NotNil(t, prev.DurationMs)
	assert.Equal(t, int64(60_000), *prev.DurationMs)

	// The newest view stays open (unknown dwell, not zero).
	var latest views.View
	require.NoError(t, db.First(&latest, second.ViewID).Error)
	assert.Nil(t, latest.NextViewID)
	assert.Nil(t, latest.DurationMs)
}

func TestRecordFloorsNegativeDurationAtZero(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-3", time.Now().UTC())
	session := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())
	home := testsupport.CreateTestResource(t, db, "/")

	recorder := views.NewRecorder(db, logger)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	first, err := recorder.Record(session.ID, home.ID, start)
	require.NoError(t, err)

	// Clock skew: the second view carries an earlier timestamp.
	_, err = recorder.Record(session.ID, home.ID, start.Add(-5*time.Second))
	require.NoError(t, err)

	var prev views.View
	require.NoError(t, db.First(&prev, first.ViewID).Error)
	require.NotNil(t, prev.DurationMs)
	assert.Equal(t, int64(0), *prev.DurationMs)
}

func TestRecordChainsPerSessionIndependently(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-4", time.Now().UTC())
	sessionA := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())
	sessionB := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())
	home := testsupport.CreateTestResource(t, db, "/")

	recorder := views.NewRecorder(db, logger)
	start := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	a1, err := recorder.Record(sessionA.ID, home.ID, start)
	require.NoError(t, err)

	// A view in a different session must not chain onto session A.
	b1, err := recorder.Record(sessionB.ID, home.ID, start.Add(time.Minute))
	require.NoError(t, err)
	assert.Nil(t, b1.PrevViewID)

	var viewA views.View
	require.NoError(t, db.First(&viewA, a1.ViewID).Error)
	assert.Nil(t, viewA.NextViewID)
}

func TestRecordRequiresSessionAndResource(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	recorder := views.NewRecorder(dbManager.GetConnection(), logger)

	_, err := recorder.Record(0, 1, time.Now())
	assert.Error(t, err)

	_, err = recorder.Record(1, 0, time.Now())
	assert.Error(t, err)
}
