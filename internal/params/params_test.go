package params_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webstats/internal/params"
	"webstats/internal/testsupport"
)

func TestExtractTrackedParams(t *testing.T) {
	got := params.Extract("https://example.com/?utm_source=newsletter&utm_medium=email&utm_campaign=spring&foo=bar")

	assert.Equal(t, map[string]string{
		"utm_source":   "newsletter",
		"utm_medium":   "email",
		"utm_campaign": "spring",
	}, got)
}

func TestExtractConsolidatesSourceAliases(t *testing.T) {
	// utm_source wins over source and ref.
	got := params.Extract("https://example.com/?utm_source=a&source=b&ref=c")
	assert.Equal(t, "a", got["utm_source"])

	// source wins over ref.
	got = params.Extract("https://example.com/?source=b&ref=c")
	assert.Equal(t, "b", got["utm_source"])

	// ref is the last fallback.
	got = params.Extract("https://example.com/?ref=c")
	assert.Equal(t, "c", got["utm_source"])
}

func TestExtractEmptyAndUnparseable(t *testing.T) {
	assert.Empty(t, params.Extract("https://example.com/pricing"))
	assert.Empty(t, params.Extract("https://example.com/?utm_source="))
	assert.Empty(t, params.Extract("://not-a-url"))
}

func TestRecordWritesFirstTouchRows(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-1", time.Now().UTC())
	session := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())

	recorder := params.NewRecorder(db, logger)
	count, err := recorder.Record(session.ID, "https://example.com/?utm_source=x&utm_term=shoes")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rows []params.SessionParam
	require.NoError(t, db.Where("session_id = ?", session.ID).Order("name").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "utm_source", rows[0].Name)
	assert.Equal(t, "x", rows[0].Value)
	assert.Equal(t, "utm_term", rows[1].Name)
	assert.Equal(t, "shoes", rows[1].Value)
}

func TestRecordNoParamsWritesNothing(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	visitor := testsupport.CreateTestVisitor(t, db, "sig-2", time.Now().UTC())
	session := testsupport.CreateTestSession(t, db, visitor.ID, time.Now().UTC())

	recorder := params.NewRecorder(db, logger)
	count, err := recorder.Record(session.ID, "https://example.com/pricing")
	require.NoError(t, err)
	assert.Zero(t, count)

	var rows int64
	require.NoError(t, db.Model(&params.SessionParam{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestRecordRequiresSession(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	recorder := params.NewRecorder(dbManager.GetConnection(), logger)

	_, err := recorder.Record(0, "https://example.com/?utm_source=x")
	assert.Error(t, err)
}
