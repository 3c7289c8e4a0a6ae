package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fyerfyer/agni-rag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// 使用唯一的内存数据库标识符
	dbName := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err, "Failed to open in-memory database")
	require.NoError(t, db.AutoMigrate(&models.Ingestion{}), "Failed to run migrations")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestIngestionRepository_CreateAndGet(t *testing.T) {
	repo := NewIngestionRepository(setupTestDB(t))
	ctx := context.Background()

	ing := &models.Ingestion{
		ID:          "ing-1",
		FileName:    "report.pdf",
		ContentType: "pdf",
		FileSize:    2048,
		Status:      models.IngestionProcessing,
		Metadata:    datatypes.JSON(`{"collection":"agni_rag_documents"}`),
	}
	require.NoError(t, repo.Create(ctx, ing))
	assert.False(t, ing.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.FileName)
	assert.Equal(t, models.IngestionProcessing, got.Status)
	assert.JSONEq(t, `{"collection":"agni_rag_documents"}`, string(got.Metadata))
	assert.Nil(t, got.FinishedAt)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrIngestionNotFound)

	assert.Error(t, repo.Create(ctx, &models.Ingestion{}))
}

func TestIngestionRepository_Update(t *testing.T) {
	repo := NewIngestionRepository(setupTestDB(t))
	ctx := context.Background()

	ing := &models.Ingestion{ID: "ing-1", FileName: "a.txt", Status: models.IngestionQueued, TaskID: "task-9"}
	require.NoError(t, repo.Create(ctx, ing))

	ing.Status = models.IngestionPartial
	ing.ChunksProcessed = 3
	ing.ErrorKind = "StoreFailure"
	require.NoError(t, repo.Update(ctx, ing))

	got, err := repo.GetByTaskID(ctx, "task-9")
	require.NoError(t, err)
	assert.Equal(t, models.IngestionPartial, got.Status)
	assert.Equal(t, 3, got.ChunksProcessed)
	assert.Equal(t, "StoreFailure", got.ErrorKind)
	assert.NotNil(t, got.FinishedAt)
}

func TestIngestionRepository_UpdateStatus(t *testing.T) {
	repo := NewIngestionRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Ingestion{ID: "ing-1", FileName: "a.txt", Status: models.IngestionQueued}))

	require.NoError(t, repo.UpdateStatus(ctx, "ing-1", models.IngestionProcessing, ""))
	got, err := repo.GetByID(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, models.IngestionProcessing, got.Status)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, repo.UpdateStatus(ctx, "ing-1", models.IngestionFailed, "UnreadableDocument"))
	got, err = repo.GetByID(ctx, "ing-1")
	require.NoError(t, err)
	assert.Equal(t, "UnreadableDocument", got.Message)
	assert.NotNil(t, got.FinishedAt)

	err = repo.UpdateStatus(ctx, "missing", models.IngestionFailed, "")
	assert.ErrorIs(t, err, models.ErrIngestionNotFound)
}

func TestIngestionRepository_List(t *testing.T) {
	repo := NewIngestionRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		status := models.IngestionSuccess
		if i%2 == 1 {
			status = models.IngestionFailed
		}
		require.NoError(t, repo.Create(ctx, &models.Ingestion{
			ID:        fmt.Sprintf("ing-%d", i),
			FileName:  fmt.Sprintf("doc-%d.pdf", i),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	items, total, err := repo.List(ctx, 0, 2, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.Equal(t, "ing-4", items[0].ID)
	assert.Equal(t, "ing-3", items[1].ID)

	items, total, err = repo.List(ctx, 0, 10, ListFilter{Status: models.IngestionFailed})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, items, 2)

	items, total, err = repo.List(ctx, 0, 10, ListFilter{FileName: "doc-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "ing-2", items[0].ID)
}
