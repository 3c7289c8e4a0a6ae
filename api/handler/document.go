package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/fyerfyer/agni-rag/api/middleware"
	"github.com/fyerfyer/agni-rag/api/model"
	"github.com/fyerfyer/agni-rag/internal/ingest"
	"github.com/fyerfyer/agni-rag/internal/models"
	"github.com/fyerfyer/agni-rag/internal/repository"
	"github.com/fyerfyer/agni-rag/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DocumentHandler 处理文档入库相关的API请求
type DocumentHandler struct {
	ingestion     *services.IngestionService // 入库服务
	maxUploadSize int64                      // 上传文件大小上限（字节），0表示不限制
	logger        *logrus.Logger             // 日志记录器
}

// NewDocumentHandler 创建新的文档处理器
func NewDocumentHandler(ingestion *services.IngestionService, maxUploadSize int64) *DocumentHandler {
	return &DocumentHandler{
		ingestion:     ingestion,
		maxUploadSize: maxUploadSize,
		logger:        middleware.GetLogger(),
	}
}

// Ingest 上传并入库文档
// POST /api/documents/ingest
// 同步入库直接返回入库结果：没有提取到内容时为400，其他失败为500
func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		middleware.HandleError(c, middleware.NewValidationError("file is required", err.Error()))
		return
	}
	if h.maxUploadSize > 0 && fileHeader.Size > h.maxUploadSize {
		middleware.HandleError(c, middleware.NewValidationError("file is too large"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.WithError(err).WithField("filename", fileHeader.Filename).Error("Failed to open uploaded file")
		middleware.HandleError(c, middleware.NewInternalError("failed to read uploaded file"))
		return
	}
	defer file.Close()

	if req.Async {
		h.ingestAsync(c, fileHeader.Filename, file)
		return
	}

	res, err := h.ingestion.Ingest(c.Request.Context(), fileHeader.Filename, file)
	if errors.Is(err, services.ErrInvalidUpload) {
		middleware.HandleError(c, middleware.NewValidationError(res.Message))
		return
	}
	c.JSON(ingestStatusCode(err), res)
}

func (h *DocumentHandler) ingestAsync(c *gin.Context, filename string, file io.Reader) {
	rec, err := h.ingestion.IngestAsync(c.Request.Context(), filename, file)
	switch {
	case errors.Is(err, services.ErrQueueDisabled):
		middleware.HandleError(c, middleware.NewBusinessError("async ingestion is not enabled"))
		return
	case errors.Is(err, services.ErrInvalidUpload):
		middleware.HandleError(c, middleware.NewValidationError("invalid filename"))
		return
	case err != nil:
		middleware.HandleError(c, middleware.NewInternalError("failed to queue ingestion"))
		return
	}

	c.JSON(http.StatusAccepted, model.AsyncIngestResponse{
		IngestionID: rec.ID,
		TaskID:      rec.TaskID,
		Filename:    rec.FileName,
		Status:      string(rec.Status),
	})
}

// ingestStatusCode 把入库错误映射为HTTP状态码
func ingestStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case ingest.KindOf(err) == ingest.NoContentExtracted:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ListIngestions 获取入库记录列表
// GET /api/documents
func (h *DocumentHandler) ListIngestions(c *gin.Context) {
	var req model.IngestionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	filter := repository.ListFilter{
		Status:   models.IngestionStatus(req.Status),
		FileName: req.FileName,
	}
	items, total, err := h.ingestion.ListIngestions(c.Request.Context(), req.Offset(), req.GetPageSize(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list ingestions")
		middleware.HandleError(c, middleware.NewInternalError("failed to list ingestions"))
		return
	}

	resp := model.IngestionListResponse{
		Total:      total,
		Page:       req.GetPage(),
		PageSize:   req.GetPageSize(),
		Ingestions: make([]model.IngestionInfo, len(items)),
	}
	for i, item := range items {
		resp.Ingestions[i] = model.NewIngestionInfo(item)
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// GetIngestion 获取单条入库记录
// GET /api/documents/:id
func (h *DocumentHandler) GetIngestion(c *gin.Context) {
	var req model.IngestionRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid ingestion id"))
		return
	}

	rec, err := h.ingestion.GetIngestion(c.Request.Context(), req.ID)
	if err != nil {
		if errors.Is(err, models.ErrIngestionNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("ingestion not found"))
			return
		}
		h.logger.WithError(err).WithField("ingestion_id", req.ID).Error("Failed to get ingestion")
		middleware.HandleError(c, middleware.NewInternalError("failed to get ingestion"))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewIngestionInfo(rec)))
}
