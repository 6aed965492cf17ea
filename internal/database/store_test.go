package database_test

import (
	"context"
	"sync"
	"tabular-backend/internal/database"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createStore(t *testing.T) *database.Store {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	return database.NewStore(db)
}

func createDataset(t *testing.T, store *database.Store) database.Dataset {
	dataset := database.Dataset{StorageId: "obj-" + uuid.NewString(), Filename: "sales.csv", ContentType: "text/csv", SizeBytes: 128}
	require.NoError(t, store.Insert(context.Background(), &dataset))
	return dataset
}

func TestInsertAssignsIdsAndTimes(t *testing.T) {
	store := createStore(t)
	ctx := context.Background()

	dataset := createDataset(t, store)
	assert.NotEqual(t, uuid.Nil, dataset.Id)
	assert.False(t, dataset.UploadedAt.IsZero())

	profile := database.Profile{DatasetId: dataset.Id, Report: datatypes.JSON(`{"n_rows":10}`)}
	require.NoError(t, store.Insert(ctx, &profile))
	assert.NotEqual(t, uuid.Nil, profile.Id)
	assert.True(t, profile.CreatedAt.After(dataset.UploadedAt))

	loaded, err := database.Get[database.Profile](ctx, store, profile.Id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n_rows":10}`, string(loaded.Report))
}

func TestGetMissing(t *testing.T) {
	store := createStore(t)

	_, err := database.Get[database.Dataset](context.Background(), store, uuid.New())
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestLatestByDataset(t *testing.T) {
	store := createStore(t)
	ctx := context.Background()

	d1 := createDataset(t, store)
	d2 := createDataset(t, store)

	latest, err := database.LatestByDataset[database.Profile](ctx, store, d1.Id)
	require.NoError(t, err)
	assert.Nil(t, latest)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		p := database.Profile{DatasetId: d1.Id, Report: datatypes.JSON(`{}`)}
		require.NoError(t, store.Insert(ctx, &p))
		ids = append(ids, p.Id)
	}
	other := database.Profile{DatasetId: d2.Id, Report: datatypes.JSON(`{}`)}
	require.NoError(t, store.Insert(ctx, &other))

	latest, err = database.LatestByDataset[database.Profile](ctx, store, d1.Id)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, ids[len(ids)-1], latest.Id)

	rows, err := database.ListByDataset[database.Profile](ctx, store, d1.Id)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for i, row := range rows {
		assert.Equal(t, ids[i], row.Id, "rows should be listed in insertion order")
	}
}

func TestPatchDoesNotReorder(t *testing.T) {
	store := createStore(t)
	ctx := context.Background()
	dataset := createDataset(t, store)

	first := database.PreprocessRun{DatasetId: dataset.Id, Status: database.RunPending, Params: datatypes.JSON(`{}`)}
	second := database.PreprocessRun{DatasetId: dataset.Id, Status: database.RunPending, Params: datatypes.JSON(`{}`)}
	require.NoError(t, store.Insert(ctx, &first))
	require.NoError(t, store.Insert(ctx, &second))

	require.NoError(t, database.Patch[database.PreprocessRun](ctx, store, first.Id, map[string]any{"processed_filename": "x.csv"}))

	latest, err := database.LatestByDataset[database.PreprocessRun](ctx, store, dataset.Id)
	require.NoError(t, err)
	assert.Equal(t, second.Id, latest.Id)

	patched, err := database.Get[database.PreprocessRun](ctx, store, first.Id)
	require.NoError(t, err)
	assert.Equal(t, "x.csv", patched.ProcessedFilename.String)
	assert.True(t, patched.UpdatedAt.After(patched.CreatedAt))
	assert.Equal(t, first.CreatedAt.UnixMicro(), patched.CreatedAt.UnixMicro())

	err = database.Patch[database.PreprocessRun](ctx, store, uuid.New(), map[string]any{"processed_filename": "y.csv"})
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestConcurrentPatchesSameRecord(t *testing.T) {
	store := createStore(t)
	ctx := context.Background()
	dataset := createDataset(t, store)

	run := database.PreprocessRun{DatasetId: dataset.Id, Status: database.RunPending, Params: datatypes.JSON(`{}`)}
	require.NoError(t, store.Insert(ctx, &run))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, database.Patch[database.PreprocessRun](ctx, store, run.Id, map[string]any{"processed_filename": "f.csv"}))
		}(i)
	}
	wg.Wait()

	loaded, err := database.Get[database.PreprocessRun](ctx, store, run.Id)
	require.NoError(t, err)
	assert.Equal(t, "f.csv", loaded.ProcessedFilename.String)
	assert.Equal(t, database.RunPending, loaded.Status)
}

func TestListDatasetsNewestFirst(t *testing.T) {
	store := createStore(t)

	d1 := createDataset(t, store)
	d2 := createDataset(t, store)

	datasets, err := database.ListDatasets(context.Background(), store)
	require.NoError(t, err)
	require.Len(t, datasets, 2)
	assert.Equal(t, d2.Id, datasets[0].Id)
	assert.Equal(t, d1.Id, datasets[1].Id)
}
