package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/agni-rag/api/middleware"
	"github.com/fyerfyer/agni-rag/config"
	"github.com/fyerfyer/agni-rag/internal/agent"
	"github.com/fyerfyer/agni-rag/internal/cache"
	"github.com/fyerfyer/agni-rag/internal/database"
	"github.com/fyerfyer/agni-rag/internal/document"
	"github.com/fyerfyer/agni-rag/internal/embedding"
	"github.com/fyerfyer/agni-rag/internal/ingest"
	"github.com/fyerfyer/agni-rag/internal/llm"
	"github.com/fyerfyer/agni-rag/internal/repository"
	"github.com/fyerfyer/agni-rag/internal/services"
	"github.com/fyerfyer/agni-rag/internal/vectordb"
	"github.com/fyerfyer/agni-rag/pkg/storage"
	"github.com/fyerfyer/agni-rag/pkg/taskqueue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app 持有各命令共享的组件
type app struct {
	cfg          *config.Config
	logger       *logrus.Logger
	registry     *prometheus.Registry
	cache        cache.Cache
	embedder     embedding.Client
	store        vectordb.Store
	orchestrator *ingest.Orchestrator
	closers      []func() error
}

// loadApp 加载配置并创建入库核心组件
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := middleware.GetLogger()
	if err := middleware.ConfigureLogger(cfg.Log); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.setupCore(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) setupCore() error {
	var err error
	if a.cache, err = a.newCache(); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.addCloser(a.cache)

	if a.embedder, err = a.newEmbedder(); err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	if a.store, err = vectordb.NewStore(vectordb.Config{
		Type:    a.cfg.VectorDB.Type,
		URL:     a.cfg.VectorDB.URL,
		APIKey:  a.cfg.VectorDB.APIKey,
		DSN:     a.cfg.VectorDB.DSN,
		Timeout: a.cfg.VectorDB.Timeout,
	}); err != nil {
		return fmt.Errorf("failed to initialize vector store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	a.orchestrator, err = a.newOrchestrator()
	return err
}

func (a *app) newCache() (cache.Cache, error) {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Type = a.cfg.Cache.Type
	cacheCfg.RedisAddr = a.cfg.Cache.Address
	cacheCfg.RedisPassword = a.cfg.Cache.Password
	cacheCfg.RedisDB = a.cfg.Cache.DB
	if a.cfg.Cache.TTL > 0 {
		cacheCfg.DefaultTTL = a.cfg.Cache.TTL
	}
	return cache.NewCache(cacheCfg)
}

func (a *app) newEmbedder() (embedding.Client, error) {
	ec := a.cfg.Embedding
	client, err := embedding.NewClient(ec.Provider,
		embedding.WithAPIKey(ec.APIKey),
		embedding.WithBaseURL(ec.BaseURL),
		embedding.WithModel(ec.Model),
		embedding.WithDimensions(ec.Dimensions),
		embedding.WithBatchSize(ec.BatchSize),
		embedding.WithTimeout(ec.Timeout),
		embedding.WithMaxRetries(ec.MaxRetries),
	)
	if err != nil {
		return nil, err
	}
	a.addCloser(client)

	if ec.Cache {
		return embedding.NewCachedClient(client, a.cache, a.cfg.Cache.TTL, a.logger), nil
	}
	return client, nil
}

func (a *app) newOrchestrator() (*ingest.Orchestrator, error) {
	distance, err := vectordb.ParseDistance(a.cfg.Ingest.Distance)
	if err != nil {
		return nil, err
	}

	assembler, err := document.NewAssembler(document.SplitterConfig{
		ChunkSize:    a.cfg.Splitter.ChunkSize,
		ChunkOverlap: a.cfg.Splitter.ChunkOverlap,
		Separators:   a.cfg.Splitter.Separators,
	}, document.WithConcurrency(a.cfg.Ingest.Workers), document.WithAssemblerLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("invalid splitter config: %w", err)
	}

	return ingest.NewOrchestrator(assembler, a.embedder, a.store,
		ingest.WithCollection(a.cfg.Ingest.Collection),
		ingest.WithDistance(distance),
		ingest.WithBatchSize(a.cfg.Ingest.BatchSize),
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(ingest.NewMetrics(a.registry)),
	), nil
}

// ingestionService 创建入库服务，同时打开上传存储和历史数据库
func (a *app) ingestionService(ctx context.Context, queue taskqueue.Queue) (*services.IngestionService, error) {
	sc := a.cfg.Storage
	files, err := storage.New(ctx, storage.Config{
		Type:  sc.Type,
		Local: storage.LocalConfig{Path: sc.Path},
		Minio: storage.MinioConfig{
			Endpoint:  sc.Endpoint,
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			UseSSL:    sc.UseSSL,
			Bucket:    sc.Bucket,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	db, err := a.openDatabase()
	if err != nil {
		return nil, err
	}

	opts := []services.IngestionOption{services.WithIngestionLogger(a.logger)}
	if queue != nil {
		opts = append(opts, services.WithTaskQueue(queue))
	}
	return services.NewIngestionService(files, a.orchestrator, repository.NewIngestionRepository(db), opts...), nil
}

func (a *app) openDatabase() (*gorm.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.DSN = a.cfg.Database.DSN
	db, err := database.Open(dbCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error { return database.Close(db) })
	return db, nil
}

// queryService 创建问答服务
func (a *app) queryService() (*services.QueryService, error) {
	lc := a.cfg.LLM
	client, err := llm.NewClient(lc.Provider,
		llm.WithAPIKey(lc.APIKey),
		llm.WithBaseURL(lc.BaseURL),
		llm.WithModel(lc.Model),
		llm.WithMaxTokens(lc.MaxTokens),
		llm.WithTemperature(lc.Temperature),
		llm.WithTimeout(lc.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	a.addCloser(client)

	opts := []agent.Option{
		agent.WithCollection(a.orchestrator.Collection()),
		agent.WithTopK(a.cfg.Query.TopK),
		agent.WithDocumentSummary(a.cfg.Query.DocumentSummary),
		agent.WithLogger(a.logger),
	}
	if a.cfg.Query.CacheAnswers {
		opts = append(opts, agent.WithAnswerCache(a.cache, a.cfg.Cache.TTL))
	}
	pipeline := agent.NewPipeline(client, a.embedder, a.store, opts...)
	return services.NewQueryService(pipeline, services.WithQueryLogger(a.logger)), nil
}

// queueConfig 根据配置生成任务队列配置
func (a *app) queueConfig() *taskqueue.Config {
	qc := taskqueue.DefaultConfig()
	qc.RedisAddr = a.cfg.Queue.RedisAddr
	qc.RedisPassword = a.cfg.Queue.RedisPassword
	qc.RedisDB = a.cfg.Queue.RedisDB
	if a.cfg.Queue.Concurrency > 0 {
		qc.Concurrency = a.cfg.Queue.Concurrency
	}
	qc.RetryLimit = a.cfg.Queue.RetryLimit
	qc.Logger = a.logger
	return qc
}

// addCloser 登记实现了io.Closer的组件
func (a *app) addCloser(v interface{}) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

// Close 按创建的逆序释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
	a.closers = nil
}

// shutdownTimeout 优雅关闭的等待时间
const shutdownTimeout = 10 * time.Second
