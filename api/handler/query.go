package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/agni-rag/api/middleware"
	"github.com/fyerfyer/agni-rag/api/model"
	"github.com/fyerfyer/agni-rag/internal/agent"
	"github.com/fyerfyer/agni-rag/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QueryHandler 处理问答相关的API请求
type QueryHandler struct {
	queryService *services.QueryService // 问答服务
	logger       *logrus.Logger         // 日志记录器
}

// NewQueryHandler 创建新的问答处理器
func NewQueryHandler(queryService *services.QueryService) *QueryHandler {
	return &QueryHandler{
		queryService: queryService,
		logger:       middleware.GetLogger(),
	}
}

// Query 回答问题
// POST /api/query
func (h *QueryHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("query is required", err.Error()))
		return
	}

	answer, err := h.queryService.Answer(c.Request.Context(), req.Query)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyQuery) {
			middleware.HandleError(c, middleware.NewValidationError("query is required"))
			return
		}
		middleware.HandleError(c, middleware.NewInternalError("failed to answer query", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.NewQueryResponse(answer)))
}
