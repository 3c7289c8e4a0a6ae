package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/agni-rag/internal/models"
	"gorm.io/gorm"
)

// ingestionRepository 入库记录仓储实现
type ingestionRepository struct {
	db *gorm.DB // 数据库连接
}

// NewIngestionRepository 创建入库记录仓储实例
func NewIngestionRepository(db *gorm.DB) IngestionRepository {
	return &ingestionRepository{db: db}
}

// Create 创建入库记录
func (r *ingestionRepository) Create(ctx context.Context, ing *models.Ingestion) error {
	if ing.ID == "" {
		return errors.New("ingestion ID cannot be empty")
	}
	return r.db.WithContext(ctx).Create(ing).Error
}

// Update 保存入库记录的全部字段
func (r *ingestionRepository) Update(ctx context.Context, ing *models.Ingestion) error {
	if ing.ID == "" {
		return errors.New("ingestion ID cannot be empty")
	}
	if ing.Status.Terminal() && ing.FinishedAt == nil {
		now := time.Now()
		ing.FinishedAt = &now
	}
	return r.db.WithContext(ctx).Save(ing).Error
}

// GetByID 根据ID获取入库记录
func (r *ingestionRepository) GetByID(ctx context.Context, id string) (*models.Ingestion, error) {
	return r.first(ctx, "id = ?", id)
}

// GetByTaskID 根据异步任务ID获取入库记录
func (r *ingestionRepository) GetByTaskID(ctx context.Context, taskID string) (*models.Ingestion, error) {
	return r.first(ctx, "task_id = ?", taskID)
}

func (r *ingestionRepository) first(ctx context.Context, query string, arg string) (*models.Ingestion, error) {
	var ing models.Ingestion
	err := r.db.WithContext(ctx).Where(query, arg).First(&ing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrIngestionNotFound, arg)
		}
		return nil, err
	}
	return &ing, nil
}

// List 按创建时间倒序列出入库记录
func (r *ingestionRepository) List(ctx context.Context, offset, limit int, filter ListFilter) ([]*models.Ingestion, int64, error) {
	var (
		items []*models.Ingestion
		total int64
	)

	query := r.db.WithContext(ctx).Model(&models.Ingestion{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.FileName != "" {
		query = query.Where("file_name LIKE ?", "%"+filter.FileName+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// UpdateStatus 更新状态
func (r *ingestionRepository) UpdateStatus(ctx context.Context, id string, status models.IngestionStatus, message string) error {
	updates := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": time.Now(),
	}
	if status.Terminal() {
		updates["finished_at"] = time.Now()
	}

	result := r.db.WithContext(ctx).Model(&models.Ingestion{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrIngestionNotFound, id)
	}
	return nil
}
