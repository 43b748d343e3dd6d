package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webstats/internal/dimensions"
	"webstats/internal/testsupport"
	"webstats/internal/visitors"
)

func TestSignatureIsStableWithinADay(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	sig1 := visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-a", now)
	sig2 := visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-a", now.Add(8*time.Hour))

	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 64)
}

func TestSignatureChangesAcrossDaysAndInputs(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	base := visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-a", now)

	assert.NotEqual(t, base, visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-a", now.AddDate(0, 0, 1)))
	assert.NotEqual(t, base, visitors.Signature("203.0.113.8", "Mozilla/5.0", "salt-a", now))
	assert.NotEqual(t, base, visitors.Signature("203.0.113.7", "Mozilla/6.0", "salt-a", now))
	assert.NotEqual(t, base, visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-b", now))
}

func TestRecordIsIdempotentPerSignature(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	recorder := visitors.NewRecorder(logger, true)
	now := time.Now()
	sig := visitors.Signature("203.0.113.7", "Mozilla/5.0", "salt-a", now)

	id1, err := recorder.Record(dimensions.NewResolver(db, logger), sig, now)
	require.NoError(t, err)
	require.NotZero(t, id1)

	id2, err := recorder.Record(dimensions.NewResolver(db, logger), sig, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRecordDisabledReturnsZero(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	recorder := visitors.NewRecorder(logger, false)
	assert.False(t, recorder.Enabled())

	id, err := recorder.Record(dimensions.NewResolver(db, logger), "abc", time.Now())
	require.NoError(t, err)
	assert.Zero(t, id)

	var count int64
	require.NoError(t, db.Model(&visitors.Visitor{}).Count(&count).Error)
	assert.Zero(t, count)
}
