package taskqueue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// IngestFunc 执行一次文档入库，返回的结果保存到任务上
// 不应重试的失败需要用ErrPermanent包装
type IngestFunc func(ctx context.Context, payload IngestPayload) (interface{}, error)

// IngestHandler 处理文档入库任务
type IngestHandler struct {
	ingest IngestFunc     // 入库函数
	logger *logrus.Logger // 日志记录器
}

// NewIngestHandler 创建文档入库任务处理器
func NewIngestHandler(fn IngestFunc, logger *logrus.Logger) *IngestHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IngestHandler{ingest: fn, logger: logger}
}

// GetTaskTypes 返回支持的任务类型
func (h *IngestHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskIngestDocument}
}

// ProcessTask 解析载荷并执行入库
func (h *IngestHandler) ProcessTask(ctx context.Context, task *Task) (interface{}, error) {
	var payload IngestPayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrPermanent, ErrInvalidPayload, err)
	}
	if payload.IngestionID == "" {
		payload.IngestionID = task.IngestionID
	}
	if payload.Filename == "" || payload.IngestionID == "" {
		return nil, fmt.Errorf("%w: %w: filename and ingestion id are required", ErrPermanent, ErrInvalidPayload)
	}

	h.logger.WithFields(logrus.Fields{
		"task_id":      task.ID,
		"ingestion_id": payload.IngestionID,
		"filename":     payload.Filename,
	}).Info("Processing ingestion task")

	return h.ingest(ctx, payload)
}
