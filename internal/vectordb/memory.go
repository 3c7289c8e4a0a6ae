package vectordb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// memoryCollection 内存集合
type memoryCollection struct {
	dimension int
	distance  DistanceType
	points    map[string]Point
}

// MemoryStore 基于内存的向量库实现
// 适用于测试和单进程开发环境，搜索为线性扫描
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemoryStore 创建内存向量库
func NewMemoryStore(_ Config) (Store, error) {
	return &MemoryStore{collections: make(map[string]*memoryCollection)}, nil
}

// CollectionExists 检查集合是否存在
func (m *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// CreateCollection 创建集合
func (m *MemoryStore) CreateCollection(_ context.Context, name string, dimension int, distance DistanceType) error {
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidDimension)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return ErrCollectionExists
	}
	m.collections[name] = &memoryCollection{
		dimension: dimension,
		distance:  distance,
		points:    make(map[string]Point),
	}
	return nil
}

// Upsert 写入或覆盖记录
// 先校验全部记录再写入，任一记录无效时整批不写
func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	for _, p := range points {
		if _, err := uuid.Parse(p.ID); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidID, p.ID)
		}
		if err := ValidateVector(p.Vector, c.dimension); err != nil {
			return fmt.Errorf("point %s: %w", p.ID, err)
		}
	}

	for _, p := range points {
		c.points[p.ID] = Point{
			ID:      p.ID,
			Vector:  slices.Clone(p.Vector),
			Payload: maps.Clone(p.Payload),
		}
	}
	return nil
}

// Search 线性扫描计算相似度
func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if err := ValidateVector(vector, c.dimension); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(c.points))
	for _, p := range c.points {
		dist, err := ComputeDistance(vector, p.Vector, c.distance)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ID:      p.ID,
			Score:   DistanceToScore(dist, c.distance),
			Payload: maps.Clone(p.Payload),
		})
	}

	// 得分相同时按ID排序，保证结果稳定
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count 返回集合中的记录数
func (m *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return len(c.points), nil
}

// Close 内存实现无需释放资源
func (m *MemoryStore) Close() error {
	return nil
}

func init() {
	RegisterStore("memory", NewMemoryStore)
}
