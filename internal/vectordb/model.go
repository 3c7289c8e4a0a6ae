package vectordb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// 常用错误定义
var (
	ErrCollectionExists   = errors.New("collection already exists")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrEmptyVector        = errors.New("empty vector")
	ErrInvalidID          = errors.New("invalid point ID")
	ErrInvalidDimension   = errors.New("vector dimension mismatch")
)

// Point 写入向量库的一条记录
type Point struct {
	ID      string         // UUID格式的唯一标识
	Vector  []float32      // 向量表示
	Payload map[string]any // 元数据和正文
}

// SearchResult 搜索结果
type SearchResult struct {
	ID      string         // 记录ID
	Score   float32        // 相似度得分，越大越相似
	Payload map[string]any // 记录元数据
}

// DistanceType 向量距离计算方法
type DistanceType string

const (
	// Cosine 余弦相似度
	Cosine DistanceType = "cosine"
	// DotProduct 点积
	DotProduct DistanceType = "dot"
	// Euclidean 欧几里得距离
	Euclidean DistanceType = "l2"
)

// ParseDistance 解析配置中的距离名称，未知名称返回错误
func ParseDistance(s string) (DistanceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dotproduct":
		return DotProduct, nil
	case "l2", "euclid", "euclidean":
		return Euclidean, nil
	default:
		return "", fmt.Errorf("unsupported distance type: %s", s)
	}
}

// Store 向量库接口
type Store interface {
	// CollectionExists 检查集合是否存在
	CollectionExists(ctx context.Context, name string) (bool, error)

	// CreateCollection 创建集合，已存在时返回ErrCollectionExists
	CreateCollection(ctx context.Context, name string, dimension int, distance DistanceType) error

	// Upsert 写入记录，ID相同时覆盖
	Upsert(ctx context.Context, collection string, points []Point) error

	// Search 返回与向量最相似的limit条记录，按得分降序
	Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchResult, error)

	// Count 返回集合中的记录数
	Count(ctx context.Context, collection string) (int, error)

	// Close 关闭连接
	Close() error
}

// Config 向量库配置
type Config struct {
	Type    string        // 向量库类型: memory, qdrant, pgvector
	URL     string        // Qdrant服务地址
	APIKey  string        // Qdrant API密钥
	DSN     string        // PostgreSQL连接串
	Timeout time.Duration // 请求超时时间
}

// Factory 向量库工厂函数类型
type Factory func(config Config) (Store, error)

// registry 已注册的向量库实现
var registry = map[string]Factory{}

// RegisterStore 注册向量库工厂函数
func RegisterStore(name string, factory Factory) {
	registry[name] = factory
}

// NewStore 根据配置创建向量库实例，未知类型退回内存实现
func NewStore(config Config) (Store, error) {
	factory, ok := registry[config.Type]
	if !ok {
		factory = NewMemoryStore
	}
	return factory(config)
}
