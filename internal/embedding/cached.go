package embedding

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fyerfyer/agni-rag/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 以模型名和文本摘要为键缓存向量，缓存读写失败只记录日志，不影响嵌入结果
type CachedClient struct {
	inner  Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 用缓存包装嵌入客户端
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedClient{inner: inner, cache: c, ttl: ttl, logger: logger}
}

// Name 返回被包装客户端的模型名称
func (c *CachedClient) Name() string {
	return c.inner.Name()
}

func (c *CachedClient) key(text string) string {
	sum := md5.Sum([]byte(text))
	return cache.Key("emb", c.inner.Name(), hex.EncodeToString(sum[:]))
}

// Embed 优先从缓存读取向量
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}

	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, v)
	return v, nil
}

// EmbedBatch 只对未命中缓存的文本发起请求
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, NewEmbeddingError(ErrCodeBadResponse, "embedding count does not match input count")
	}
	for j, v := range vectors {
		out[missIdx[j]] = v
		c.store(ctx, missTexts[j], v)
	}

	c.logger.WithFields(logrus.Fields{
		"model":  c.inner.Name(),
		"total":  len(texts),
		"misses": len(missTexts),
	}).Debug("Embedding cache lookup")

	return out, nil
}

func (c *CachedClient) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, found, err := c.cache.Get(ctx, c.key(text))
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read embedding cache")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.logger.WithError(err).Warn("Discarding corrupt embedding cache entry")
		return nil, false
	}
	return v, true
}

func (c *CachedClient) store(ctx context.Context, text string, v []float32) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.key(text), string(raw), c.ttl); err != nil {
		c.logger.WithError(err).Warn("Failed to write embedding cache")
	}
}
