package repository

import (
	"context"

	"github.com/fyerfyer/agni-rag/internal/models"
)

// ListFilter 入库记录筛选条件
type ListFilter struct {
	Status   models.IngestionStatus // 按状态筛选，为空时不筛选
	FileName string                 // 文件名模糊匹配
}

// IngestionRepository 入库记录仓储接口
type IngestionRepository interface {
	// Create 创建入库记录
	Create(ctx context.Context, ing *models.Ingestion) error

	// Update 保存入库记录的全部字段
	Update(ctx context.Context, ing *models.Ingestion) error

	// GetByID 根据ID获取入库记录
	GetByID(ctx context.Context, id string) (*models.Ingestion, error)

	// GetByTaskID 根据异步任务ID获取入库记录
	GetByTaskID(ctx context.Context, taskID string) (*models.Ingestion, error)

	// List 按创建时间倒序列出入库记录，返回记录和总数
	List(ctx context.Context, offset, limit int, filter ListFilter) ([]*models.Ingestion, int64, error)

	// UpdateStatus 更新状态，进入终止状态时记录结束时间
	UpdateStatus(ctx context.Context, id string, status models.IngestionStatus, message string) error
}
