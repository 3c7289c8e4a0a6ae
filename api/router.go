package api

import (
	"net/http"

	"github.com/fyerfyer/agni-rag/api/handler"
	"github.com/fyerfyer/agni-rag/api/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig 路由配置
type RouterConfig struct {
	AllowedOrigins []string            // 允许跨域的前端来源
	MaxUploadMB    int64               // multipart内存缓冲上限（MB）
	Gatherer       prometheus.Gatherer // 指标来源，为空时不注册/metrics
}

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(
	cfg RouterConfig,
	docHandler *handler.DocumentHandler,
	queryHandler *handler.QueryHandler,
) *gin.Engine {
	router := gin.New()
	if cfg.MaxUploadMB > 0 {
		router.MaxMultipartMemory = cfg.MaxUploadMB << 20
	}

	// 应用全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetTraceID())
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	// 健康检查
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "active",
			"system": "Agni RAG Backend",
		})
	})

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	{
		// 文档入库API
		docGroup := api.Group("/documents")
		{
			// 上传并入库文档 - POST /api/documents/ingest
			docGroup.POST("/ingest", docHandler.Ingest)

			// 入库记录列表 - GET /api/documents
			docGroup.GET("", docHandler.ListIngestions)

			// 单条入库记录 - GET /api/documents/:id
			docGroup.GET("/:id", docHandler.GetIngestion)
		}

		// 问答API - POST /api/query
		// 调试模式下记录请求体和响应体
		if gin.Mode() == gin.DebugMode {
			api.POST("/query", middleware.RequestBodyLog(), middleware.ResponseLogger(), queryHandler.Query)
		} else {
			api.POST("/query", queryHandler.Query)
		}
	}

	return router
}
