package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/agni-rag/internal/document"
	"github.com/fyerfyer/agni-rag/internal/ingest"
	"github.com/fyerfyer/agni-rag/internal/models"
	"github.com/fyerfyer/agni-rag/internal/repository"
	"github.com/fyerfyer/agni-rag/pkg/storage"
	"github.com/fyerfyer/agni-rag/pkg/taskqueue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

var (
	// ErrInvalidUpload 上传的文件名无效
	ErrInvalidUpload = errors.New("invalid upload")
	// ErrQueueDisabled 未配置异步队列
	ErrQueueDisabled = errors.New("async ingestion is not enabled")
	// ErrUploadStorage 上传文件保存失败，底层错误只写日志
	ErrUploadStorage = errors.New("upload storage failure")
)

// IngestionService 文档入库服务
// 负责保存上传文件、调用入库编排器并记录入库历史
type IngestionService struct {
	storage      storage.Storage                // 上传文件存储
	orchestrator *ingest.Orchestrator           // 入库编排器
	repo         repository.IngestionRepository // 入库记录仓储
	queue        taskqueue.Queue                // 异步任务队列，可为空
	timeout      time.Duration                  // 单次入库超时时间
	logger       *logrus.Logger                 // 日志记录器
}

// IngestionOption 入库服务配置选项
type IngestionOption func(*IngestionService)

// WithTaskQueue 设置异步任务队列
func WithTaskQueue(queue taskqueue.Queue) IngestionOption {
	return func(s *IngestionService) {
		s.queue = queue
	}
}

// WithIngestTimeout 设置单次入库的超时时间，0表示不限制
func WithIngestTimeout(timeout time.Duration) IngestionOption {
	return func(s *IngestionService) {
		s.timeout = timeout
	}
}

// WithIngestionLogger 设置日志记录器
func WithIngestionLogger(logger *logrus.Logger) IngestionOption {
	return func(s *IngestionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewIngestionService 创建入库服务
func NewIngestionService(
	store storage.Storage,
	orchestrator *ingest.Orchestrator,
	repo repository.IngestionRepository,
	opts ...IngestionOption,
) *IngestionService {
	srv := &IngestionService{
		storage:      store,
		orchestrator: orchestrator,
		repo:         repo,
		timeout:      10 * time.Minute,
		logger:       logrus.New(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// AsyncEnabled 是否可以异步入库
func (s *IngestionService) AsyncEnabled() bool {
	return s.queue != nil
}

// Ingest 保存上传文件并同步执行入库
// 入库失败时同时返回结果和错误，结果中的状态为failed或partial
func (s *IngestionService) Ingest(ctx context.Context, filename string, r io.Reader) (*ingest.Result, error) {
	rec, err := s.save(ctx, filename, r, models.IngestionProcessing)
	if err != nil {
		return uploadFailed(filename, err), err
	}
	return s.run(ctx, rec)
}

// IngestAsync 保存上传文件并将入库任务加入队列
func (s *IngestionService) IngestAsync(ctx context.Context, filename string, r io.Reader) (*models.Ingestion, error) {
	if s.queue == nil {
		return nil, ErrQueueDisabled
	}

	rec, err := s.save(ctx, filename, r, models.IngestionQueued)
	if err != nil {
		return nil, err
	}

	payload := taskqueue.IngestPayload{IngestionID: rec.ID, Filename: rec.FileName}
	taskID, err := s.queue.Enqueue(ctx, taskqueue.TaskIngestDocument, rec.ID, payload)
	if err != nil {
		rec.Status = models.IngestionFailed
		rec.Message = "Ingestion failed: could not enqueue task"
		s.updateRecord(ctx, rec)
		return nil, fmt.Errorf("failed to enqueue ingestion: %w", err)
	}

	rec.TaskID = taskID
	s.updateRecord(ctx, rec)

	s.logger.WithFields(logrus.Fields{
		"ingestion_id": rec.ID,
		"task_id":      taskID,
		"file":         rec.FileName,
	}).Info("Ingestion queued")

	return rec, nil
}

// ProcessQueued 执行队列中的入库任务，签名与taskqueue.IngestFunc一致
// 文档本身的问题不会因重试而改变，用ErrPermanent标记
func (s *IngestionService) ProcessQueued(ctx context.Context, payload taskqueue.IngestPayload) (interface{}, error) {
	rec, err := s.repo.GetByID(ctx, payload.IngestionID)
	if err != nil {
		if errors.Is(err, models.ErrIngestionNotFound) {
			return nil, fmt.Errorf("%w: %w", taskqueue.ErrPermanent, err)
		}
		return nil, err
	}

	rec.Status = models.IngestionProcessing
	rec.FinishedAt = nil
	s.updateRecord(ctx, rec)

	res, err := s.run(ctx, rec)
	if err != nil {
		switch ingest.KindOf(err) {
		case ingest.UnreadableDocument, ingest.NoContentExtracted:
			return res, fmt.Errorf("%w: %w", taskqueue.ErrPermanent, err)
		}
		return res, err
	}
	return res, nil
}

// GetIngestion 获取入库记录
func (s *IngestionService) GetIngestion(ctx context.Context, id string) (*models.Ingestion, error) {
	return s.repo.GetByID(ctx, id)
}

// ListIngestions 列出入库记录
func (s *IngestionService) ListIngestions(ctx context.Context, offset, limit int, filter repository.ListFilter) ([]*models.Ingestion, int64, error) {
	return s.repo.List(ctx, offset, limit, filter)
}

// save 保存上传文件并创建入库记录
func (s *IngestionService) save(ctx context.Context, filename string, r io.Reader, status models.IngestionStatus) (*models.Ingestion, error) {
	name, err := storage.SanitizeFilename(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidUpload, err)
	}

	info, err := s.storage.Save(ctx, r, name)
	if err != nil {
		s.logger.WithError(err).WithField("file", name).Error("Failed to save upload")
		return nil, fmt.Errorf("%w: %s", ErrUploadStorage, name)
	}

	rec := &models.Ingestion{
		ID:          uuid.New().String(),
		FileName:    info.Name,
		ContentType: string(document.DetectContentType(info.Name)),
		FileSize:    info.Size,
		StoragePath: info.Location,
		Status:      status,
		Collection:  s.orchestrator.Collection(),
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create ingestion record: %w", err)
	}
	return rec, nil
}

// run 对已保存的文件执行入库并更新记录
func (s *IngestionService) run(ctx context.Context, rec *models.Ingestion) (*ingest.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var res *ingest.Result
	var ingestErr error
	var trail []ingest.State

	path, cleanup, err := storage.Materialize(ctx, s.storage, rec.FileName)
	if err != nil {
		ingestErr = &ingest.Error{Kind: ingest.UnreadableDocument, Err: fmt.Errorf("%w: %s", document.ErrUnreadableDocument, rec.FileName)}
		res = &ingest.Result{
			Status:   ingest.StatusFailed,
			Filename: rec.FileName,
			Message:  "Ingestion failed: " + ingestErr.Error(),
		}
		s.logger.WithError(err).WithField("file", rec.FileName).Error("Failed to materialize upload")
	} else {
		defer cleanup()
		res, ingestErr = s.orchestrator.Ingest(ctx, ingest.Request{
			Filename:   rec.FileName,
			Path:       path,
			StoredPath: rec.StoragePath,
			OnTransition: func(_, to ingest.State) {
				trail = append(trail, to)
			},
		})
	}

	rec.Status = models.IngestionStatus(res.Status)
	rec.ChunksProcessed = res.ChunksProcessed
	rec.Message = res.Message
	rec.ErrorKind = string(ingest.KindOf(ingestErr))
	rec.Metadata = stateTrail(trail)
	// 超时或取消后仍需写回记录
	s.updateRecord(context.WithoutCancel(ctx), rec)

	return res, ingestErr
}

// updateRecord 更新入库记录，失败只记录日志
func (s *IngestionService) updateRecord(ctx context.Context, rec *models.Ingestion) {
	if err := s.repo.Update(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("ingestion_id", rec.ID).Warn("Failed to update ingestion record")
	}
}

func stateTrail(trail []ingest.State) datatypes.JSON {
	if len(trail) == 0 {
		return nil
	}
	data, err := json.Marshal(map[string]interface{}{"states": trail})
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

func uploadFailed(filename string, err error) *ingest.Result {
	name, sanitizeErr := storage.SanitizeFilename(filename)
	if sanitizeErr != nil {
		name = ""
	}
	return &ingest.Result{
		Status:   ingest.StatusFailed,
		Filename: name,
		Message:  "Ingestion failed: " + err.Error(),
	}
}
