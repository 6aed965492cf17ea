package migration_2

import (
	"testing"
	"time"

	m0 "tabular-backend/internal/database/versions/migration_0"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, m0.Migration(db))

	return db
}

func TestMigration_BackfillsOpenRuns(t *testing.T) {
	db := setupTestDB(t)

	dataset := m0.Dataset{Id: uuid.New(), StorageId: "s1", Filename: "a.csv", UploadedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&dataset).Error)

	openRun := m0.PreprocessRun{Id: uuid.New(), DatasetId: dataset.Id, Status: "running", Params: datatypes.JSON(`{}`)}
	doneRun := m0.PreprocessRun{Id: uuid.New(), DatasetId: dataset.Id, Status: "completed", Params: datatypes.JSON(`{}`)}
	require.NoError(t, db.Create(&openRun).Error)
	require.NoError(t, db.Create(&doneRun).Error)

	require.NoError(t, Migration(db))

	var openCount, doneCount int64
	require.NoError(t, db.Table("preprocess_runs").Where("id = ? AND deadline IS NOT NULL", openRun.Id).Count(&openCount).Error)
	require.NoError(t, db.Table("preprocess_runs").Where("id = ? AND deadline IS NOT NULL", doneRun.Id).Count(&doneCount).Error)

	assert.Equal(t, int64(1), openCount, "open runs should get a deadline")
	assert.Equal(t, int64(0), doneCount, "finished runs should be left without a deadline")
}

func TestRollback(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, Migration(db))
	require.NoError(t, Rollback(db))

	var columnExists bool
	err := db.Raw("SELECT COUNT(*) > 0 FROM pragma_table_info('preprocess_runs') WHERE name = 'deadline'").Scan(&columnExists).Error
	require.NoError(t, err)
	assert.False(t, columnExists, "deadline column should be removed")
}
