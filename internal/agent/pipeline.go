package agent

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/agni-rag/internal/cache"
	"github.com/fyerfyer/agni-rag/internal/document"
	"github.com/fyerfyer/agni-rag/internal/embedding"
	"github.com/fyerfyer/agni-rag/internal/llm"
	"github.com/fyerfyer/agni-rag/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// ErrEmptyQuery 问题为空
var ErrEmptyQuery = errors.New("query cannot be empty")

// stage 问答流水线的阶段
type stage int

const (
	stageRoute stage = iota
	stageEnhance
	stageRespond
	stageDone
)

func (s stage) String() string {
	switch s {
	case stageRoute:
		return "route"
	case stageEnhance:
		return "enhance"
	case stageRespond:
		return "respond"
	default:
		return "done"
	}
}

// Source 回答引用的文档片段
type Source struct {
	ID       string  `json:"id"`
	Filename string  `json:"filename"`
	Page     int     `json:"page"`
	Score    float32 `json:"score"`
	Content  string  `json:"content"`
}

// Answer 问答结果
type Answer struct {
	Query         string   `json:"query"`
	EnhancedQuery string   `json:"enhanced_query,omitempty"`
	Answer        string   `json:"answer"`
	Relevant      bool     `json:"relevant"`
	Sources       []Source `json:"sources"`
}

// Pipeline 路由、改写、作答三阶段问答流水线
// 路由判定为无关时直接返回固定回复，不进入后续阶段
type Pipeline struct {
	llm        llm.Client
	embedder   embedding.Client
	store      vectordb.Store
	collection string
	topK       int
	summary    string
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *logrus.Logger
}

// Option 流水线配置选项
type Option func(*Pipeline)

// WithCollection 设置检索的集合
func WithCollection(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.collection = name
		}
	}
}

// WithTopK 设置检索返回的片段数
func WithTopK(k int) Option {
	return func(p *Pipeline) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithDocumentSummary 设置路由阶段使用的知识库摘要
func WithDocumentSummary(summary string) Option {
	return func(p *Pipeline) {
		if summary != "" {
			p.summary = summary
		}
	}
}

// WithAnswerCache 缓存相同问题的回答
func WithAnswerCache(c cache.Cache, ttl time.Duration) Option {
	return func(p *Pipeline) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline 创建问答流水线
func NewPipeline(client llm.Client, embedder embedding.Client, store vectordb.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:        client,
		embedder:   embedder,
		store:      store,
		collection: "agni_rag_documents",
		topK:       5,
		summary:    DefaultDocumentSummary,
		logger:     logrus.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 执行问答
func (p *Pipeline) Run(ctx context.Context, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	key := p.cacheKey(query)
	if cached, ok := p.lookup(ctx, key); ok {
		return cached, nil
	}

	answer := &Answer{Query: query, Sources: []Source{}}
	current := stageRoute
	for current != stageDone {
		start := time.Now()
		next, err := p.step(ctx, current, answer)
		if err != nil {
			return nil, fmt.Errorf("%s stage failed: %w", current, err)
		}
		p.logger.WithFields(logrus.Fields{
			"stage":    current.String(),
			"duration": time.Since(start).String(),
		}).Debug("Pipeline stage finished")
		current = next
	}

	p.save(ctx, key, answer)
	return answer, nil
}

// step 执行一个阶段并返回下一个阶段
func (p *Pipeline) step(ctx context.Context, s stage, answer *Answer) (stage, error) {
	switch s {
	case stageRoute:
		relevant, err := p.route(ctx, answer.Query)
		if err != nil {
			return stageDone, err
		}
		answer.Relevant = relevant
		if !relevant {
			answer.Answer = NotRelevantAnswer
			return stageDone, nil
		}
		return stageEnhance, nil

	case stageEnhance:
		enhanced, err := p.enhance(ctx, answer.Query)
		if err != nil {
			return stageDone, err
		}
		answer.EnhancedQuery = enhanced
		return stageRespond, nil

	case stageRespond:
		text, sources, err := p.respond(ctx, answer.Query, answer.EnhancedQuery)
		if err != nil {
			return stageDone, err
		}
		answer.Answer = text
		answer.Sources = sources
		return stageDone, nil
	}
	return stageDone, nil
}

// route 判断问题是否与知识库相关，回复以yes开头视为相关
func (p *Pipeline) route(ctx context.Context, query string) (bool, error) {
	resp, err := p.llm.Generate(ctx, query,
		llm.WithSystemPrompt(routerPrompt(p.summary)),
		llm.WithGenerateTemperature(0))
	if err != nil {
		return false, err
	}
	decision := strings.ToLower(strings.TrimSpace(resp.Text))
	decision = strings.Trim(decision, "'\"`")
	return strings.HasPrefix(decision, "yes"), nil
}

// enhance 把原始问题改写为检索查询，模型返回空内容时沿用原问题
func (p *Pipeline) enhance(ctx context.Context, query string) (string, error) {
	resp, err := p.llm.Generate(ctx, query, llm.WithSystemPrompt(enhancerPrompt))
	if err != nil {
		return "", err
	}
	enhanced := strings.TrimSpace(resp.Text)
	if enhanced == "" {
		return query, nil
	}
	return enhanced, nil
}

// respond 检索相关片段并基于片段作答
func (p *Pipeline) respond(ctx context.Context, query, searchQuery string) (string, []Source, error) {
	vector, err := p.embedder.Embed(ctx, searchQuery)
	if err != nil {
		return "", nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := p.store.Search(ctx, p.collection, vector, p.topK)
	if err != nil && !errors.Is(err, vectordb.ErrCollectionNotFound) {
		return "", nil, fmt.Errorf("failed to search knowledge base: %w", err)
	}

	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		sources = append(sources, sourceFromHit(hit))
	}
	if len(sources) == 0 {
		return NoContextAnswer, sources, nil
	}

	resp, err := p.llm.Generate(ctx, responderInput(query, sources), llm.WithSystemPrompt(responderPrompt))
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(resp.Text), sources, nil
}

// sourceFromHit 从检索结果的元数据还原片段信息
// 元数据经JSON往返后数字会变成float64，没有meta_data的旧数据从顶层读取
func sourceFromHit(hit vectordb.SearchResult) Source {
	s := Source{ID: hit.ID, Score: hit.Score}
	meta, _ := hit.Payload[document.MetadataKey].(map[string]any)
	field := func(key string) any {
		if v, ok := meta[key]; ok {
			return v
		}
		return hit.Payload[key]
	}

	if v, ok := field("source").(string); ok && v != "" {
		s.Filename = v
	} else if v, ok := hit.Payload["name"].(string); ok {
		s.Filename = v
	}
	if v, ok := hit.Payload["content"].(string); ok {
		s.Content = v
	}
	switch v := field("page").(type) {
	case int:
		s.Page = v
	case int64:
		s.Page = int(v)
	case float64:
		s.Page = int(v)
	}
	return s
}

func (p *Pipeline) cacheKey(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(query)))
	return cache.Key("answer", p.collection, hex.EncodeToString(sum[:]))
}

func (p *Pipeline) lookup(ctx context.Context, key string) (*Answer, bool) {
	if p.cache == nil {
		return nil, false
	}
	raw, found, err := p.cache.Get(ctx, key)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to read answer cache")
		return nil, false
	}
	if !found {
		return nil, false
	}
	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, false
	}
	return &answer, true
}

func (p *Pipeline) save(ctx context.Context, key string, answer *Answer) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return
	}
	if err := p.cache.Set(ctx, key, string(raw), p.cacheTTL); err != nil {
		p.logger.WithError(err).Warn("Failed to write answer cache")
	}
}
