package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/agni-rag/internal/document"
	"github.com/fyerfyer/agni-rag/internal/embedding"
	"github.com/fyerfyer/agni-rag/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// DefaultCollection 默认的向量集合名称
const DefaultCollection = "agni_rag_documents"

// Status 入库结果状态
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial 部分批次已写入向量库后失败
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// SuccessMessage 入库成功时的提示信息
const SuccessMessage = "Document successfully ingested and indexed."

// Request 入库请求
type Request struct {
	Filename     string               // 展示用的原始文件名
	Path         string               // 待解析文件的本地路径，可能是临时文件
	StoredPath   string               // 写入分块元数据的存储位置，为空时使用Path
	OnTransition func(from, to State) // 本次入库的状态转换回调，可为空
}

// Result 入库结果
type Result struct {
	Status          Status `json:"status"`
	Filename        string `json:"filename"`
	ChunksProcessed int    `json:"chunks_processed"`
	Message         string `json:"message"`
}

// ExtractorFactory 根据文件路径选择页面提取器
type ExtractorFactory func(path string) (document.Extractor, error)

// Orchestrator 入库编排器
// 依次执行提取、切分、嵌入、写入，任一步失败都会中止本次入库
type Orchestrator struct {
	assembler  *document.Assembler
	extractors ExtractorFactory
	embedder   embedding.Client
	store      vectordb.Store
	collection string
	distance   vectordb.DistanceType
	batchSize  int
	logger     *logrus.Logger
	metrics    *Metrics
	observer   func(req Request, from, to State)
}

// Option 编排器配置选项
type Option func(*Orchestrator)

// WithCollection 设置目标集合
func WithCollection(name string) Option {
	return func(o *Orchestrator) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithDistance 设置新建集合使用的距离度量
func WithDistance(d vectordb.DistanceType) Option {
	return func(o *Orchestrator) {
		o.distance = d
	}
}

// WithBatchSize 设置嵌入和写入的批大小
func WithBatchSize(size int) Option {
	return func(o *Orchestrator) {
		if size > 0 {
			o.batchSize = size
		}
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics 设置Prometheus指标
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithExtractorFactory 替换页面提取器的选择逻辑
func WithExtractorFactory(f ExtractorFactory) Option {
	return func(o *Orchestrator) {
		o.extractors = f
	}
}

// WithStateObserver 订阅状态转换
func WithStateObserver(fn func(req Request, from, to State)) Option {
	return func(o *Orchestrator) {
		o.observer = fn
	}
}

// NewOrchestrator 创建入库编排器
func NewOrchestrator(assembler *document.Assembler, embedder embedding.Client, store vectordb.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		assembler:  assembler,
		extractors: document.NewExtractor,
		embedder:   embedder,
		store:      store,
		collection: DefaultCollection,
		distance:   vectordb.Cosine,
		batchSize:  16,
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Collection 返回目标集合名称
func (o *Orchestrator) Collection() string {
	return o.collection
}

// run 单次入库的上下文
type run struct {
	req     Request
	machine *machine
	started time.Time
	log     *logrus.Entry
}

// Ingest 执行一次完整入库
// 返回的Result总是非空；失败时同时返回*Error，调用方可用KindOf判断类别
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Result, error) {
	r := &run{
		req:     req,
		started: time.Now(),
		log:     o.logger.WithField("file", req.Filename),
	}
	r.machine = newMachine(func(from, to State) {
		r.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Ingestion state changed")
		if o.observer != nil {
			o.observer(req, from, to)
		}
		if req.OnTransition != nil {
			req.OnTransition(from, to)
		}
	})

	r.log.Info("Starting document ingestion")

	chunks, err := o.extract(ctx, r)
	if err != nil {
		return o.fail(r, err, 0)
	}

	vectors, err := o.embed(ctx, r, chunks)
	if err != nil {
		return o.fail(r, err, 0)
	}

	upserted, err := o.upsert(ctx, r, chunks, vectors)
	if err != nil {
		return o.fail(r, err, upserted)
	}

	r.machine.advance(StateDone)
	o.metrics.observeResult(StatusSuccess, "", upserted)
	r.log.WithFields(logrus.Fields{
		"chunks":   upserted,
		"duration": time.Since(r.started).String(),
	}).Info("Document ingestion completed")

	return &Result{
		Status:          StatusSuccess,
		Filename:        req.Filename,
		ChunksProcessed: upserted,
		Message:         SuccessMessage,
	}, nil
}

// extract 提取页面并切分为分块
// 页面序列是惰性的，提取和切分交替进行，完成后依次进入Extracted和Split
func (o *Orchestrator) extract(ctx context.Context, r *run) ([]document.Chunk, error) {
	start := time.Now()

	extractor, err := o.extractors(r.req.Path)
	if err != nil {
		return nil, classifyExtraction(err)
	}

	src := document.Source{Filename: r.req.Filename, FilePath: r.req.Path}
	if r.req.StoredPath != "" {
		src.FilePath = r.req.StoredPath
	}
	chunks, err := o.assembler.Assemble(ctx, src, extractor.Pages(r.req.Path))
	if err != nil {
		return nil, classifyExtraction(err)
	}
	r.machine.advance(StateExtracted)
	r.machine.advance(StateSplit)
	o.metrics.observeStage(StateSplit, time.Since(start).Seconds())

	if len(chunks) == 0 {
		return nil, newError(NoContentExtracted, ErrNoContent)
	}

	r.log.WithField("chunks", len(chunks)).Info("Document split into chunks")
	return chunks, nil
}

// embed 分批生成向量，任一批失败则整体失败
func (o *Orchestrator) embed(ctx context.Context, r *run, chunks []document.Chunk) ([][]float32, error) {
	start := time.Now()

	vectors := make([][]float32, 0, len(chunks))
	for offset := 0; offset < len(chunks); offset += o.batchSize {
		end := min(offset+o.batchSize, len(chunks))
		texts := make([]string, 0, end-offset)
		for _, c := range chunks[offset:end] {
			texts = append(texts, c.Content)
		}

		batch, err := o.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, stageError(ctx, EmbeddingFailure, err)
		}
		if len(batch) != len(texts) {
			return nil, newError(EmbeddingFailure,
				fmt.Errorf("provider returned %d vectors for %d chunks", len(batch), len(texts)))
		}
		vectors = append(vectors, batch...)
	}

	dimension := len(vectors[0])
	for i, v := range vectors {
		if err := vectordb.ValidateVector(v, dimension); err != nil {
			return nil, newError(EmbeddingFailure, fmt.Errorf("chunk %d: %w", i, err))
		}
	}

	r.machine.advance(StateEmbedded)
	o.metrics.observeStage(StateEmbedded, time.Since(start).Seconds())
	r.log.WithFields(logrus.Fields{"vectors": len(vectors), "dimension": dimension}).Debug("Chunks embedded")
	return vectors, nil
}

// upsert 确保集合存在后分批写入，返回已成功写入的分块数
func (o *Orchestrator) upsert(ctx context.Context, r *run, chunks []document.Chunk, vectors [][]float32) (int, error) {
	start := time.Now()

	if err := o.ensureCollection(ctx, len(vectors[0])); err != nil {
		return 0, stageError(ctx, StoreFailure, err)
	}

	written := 0
	for offset := 0; offset < len(chunks); offset += o.batchSize {
		end := min(offset+o.batchSize, len(chunks))
		points := make([]vectordb.Point, 0, end-offset)
		for i := offset; i < end; i++ {
			points = append(points, vectordb.Point{
				ID:      chunks[i].ID,
				Vector:  vectors[i],
				Payload: chunks[i].Payload(),
			})
		}

		if err := o.store.Upsert(ctx, o.collection, points); err != nil {
			return written, stageError(ctx, StoreFailure, err)
		}
		written += len(points)
	}

	r.machine.advance(StateUpserted)
	o.metrics.observeStage(StateUpserted, time.Since(start).Seconds())
	return written, nil
}

// ensureCollection 检查集合是否存在，不存在则按向量维度创建
// 检查和创建之间没有锁，并发创建导致的已存在错误视为成功
func (o *Orchestrator) ensureCollection(ctx context.Context, dimension int) error {
	exists, err := o.store.CollectionExists(ctx, o.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	o.logger.WithFields(logrus.Fields{
		"collection": o.collection,
		"dimension":  dimension,
		"distance":   o.distance,
	}).Info("Creating vector collection")

	err = o.store.CreateCollection(ctx, o.collection, dimension, o.distance)
	if err != nil && !errors.Is(err, vectordb.ErrCollectionExists) {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// fail 终止入库并生成失败结果
func (o *Orchestrator) fail(r *run, err error, upserted int) (*Result, error) {
	ingestErr, ok := err.(*Error)
	if !ok {
		ingestErr = newError(StoreFailure, err)
	}
	r.machine.advance(StateFailed)

	status := StatusFailed
	if upserted > 0 {
		status = StatusPartial
	}
	o.metrics.observeResult(status, ingestErr.Kind, upserted)

	r.log.WithFields(logrus.Fields{
		"kind":     ingestErr.Kind,
		"upserted": upserted,
		"duration": time.Since(r.started).String(),
	}).WithError(ingestErr.Err).Error("Document ingestion failed")

	return &Result{
		Status:          status,
		Filename:        r.req.Filename,
		ChunksProcessed: upserted,
		Message:         "Ingestion failed: " + ingestErr.Error(),
	}, ingestErr
}
