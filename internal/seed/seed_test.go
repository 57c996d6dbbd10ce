package seed

import (
	"testing"

	"murmur/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSeedTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Restriction{},
		&models.IPBan{},
		&models.AuditEntry{},
		&models.Wallet{},
		&models.Entitlement{},
	))
	return db
}

func TestSubjects_CreatesWallets(t *testing.T) {
	t.Parallel()
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	subjects, err := s.Subjects(20)
	require.NoError(t, err)
	require.Len(t, subjects, 20)

	var count int64
	require.NoError(t, db.Model(&models.Wallet{}).Count(&count).Error)
	assert.Equal(t, int64(20), count)

	for _, subject := range subjects {
		assert.True(t, subject.Type.Valid())
		assert.NotEmpty(t, subject.ID)
	}
}

func TestRestrictions_PairAuditEntries(t *testing.T) {
	t.Parallel()
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	subjects, err := s.Subjects(5)
	require.NoError(t, err)
	require.NoError(t, s.Restrictions(subjects, 15))

	var restrictions, audits int64
	require.NoError(t, db.Model(&models.Restriction{}).Count(&restrictions).Error)
	require.NoError(t, db.Model(&models.AuditEntry{}).Count(&audits).Error)
	assert.Equal(t, int64(15), restrictions)
	assert.Equal(t, restrictions, audits, "every seeded restriction carries an audit entry")
}

func TestClearAll(t *testing.T) {
	t.Parallel()
	db := setupSeedTestDB(t)
	s := NewSeeder(db)

	subjects, err := s.Subjects(5)
	require.NoError(t, err)
	require.NoError(t, s.Restrictions(subjects, 5))
	require.NoError(t, s.IPBans(3))

	require.NoError(t, s.ClearAll())

	for _, model := range []any{
		&models.Wallet{}, &models.Restriction{}, &models.AuditEntry{}, &models.IPBan{},
	} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count)
	}
}
