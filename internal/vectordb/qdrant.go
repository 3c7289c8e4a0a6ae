package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// QdrantStore 基于Qdrant REST接口的向量库实现
type QdrantStore struct {
	http *resty.Client
}

// qdrantError Qdrant错误响应体
type qdrantError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantScoredPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// NewQdrantStore 创建Qdrant向量库客户端
func NewQdrantStore(config Config) (Store, error) {
	if config.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if config.APIKey != "" {
		client.SetHeader("api-key", config.APIKey)
	}

	return &QdrantStore{http: client}, nil
}

func qdrantDistance(d DistanceType) string {
	switch d {
	case DotProduct:
		return "Dot"
	case Euclidean:
		return "Euclid"
	default:
		return "Cosine"
	}
}

func collectionPath(name string, suffix string) string {
	return "/collections/" + url.PathEscape(name) + suffix
}

// CollectionExists 检查集合是否存在
func (q *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	resp, err := q.http.R().SetContext(ctx).Get(collectionPath(name, ""))
	if err != nil {
		return false, fmt.Errorf("qdrant: request failed: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, qdrantResponseError(resp)
	}
}

// CreateCollection 创建集合
// Qdrant对重复创建返回409(旧版本为400并提示already exists)，统一映射为ErrCollectionExists
func (q *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, distance DistanceType) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": qdrantDistance(distance),
		},
	}
	resp, err := q.http.R().SetContext(ctx).SetBody(body).Put(collectionPath(name, ""))
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	if resp.StatusCode() == http.StatusConflict || strings.Contains(resp.String(), "already exists") {
		return ErrCollectionExists
	}
	return qdrantResponseError(resp)
}

// Upsert 写入记录，wait=true保证返回时写入已生效
func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	body := make([]qdrantPoint, 0, len(points))
	for _, p := range points {
		body = append(body, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}

	resp, err := q.http.R().
		SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(map[string]any{"points": body}).
		Put(collectionPath(collection, "/points"))
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.IsError() {
		return qdrantResponseError(resp)
	}
	return nil
}

// Search 相似度搜索
func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int) ([]SearchResult, error) {
	if err := ValidateVector(vector, 0); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	var out struct {
		Result []qdrantScoredPoint `json:"result"`
	}
	resp, err := q.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"vector":       vector,
			"limit":        limit,
			"with_payload": true,
		}).
		SetResult(&out).
		Post(collectionPath(collection, "/points/search"))
	if err != nil {
		return nil, fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.IsError() {
		return nil, qdrantResponseError(resp)
	}

	results := make([]SearchResult, 0, len(out.Result))
	for _, r := range out.Result {
		results = append(results, SearchResult{
			ID:      fmt.Sprint(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}

// Count 返回集合中的记录数
func (q *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	resp, err := q.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"exact": true}).
		SetResult(&out).
		Post(collectionPath(collection, "/points/count"))
	if err != nil {
		return 0, fmt.Errorf("qdrant: request failed: %w", err)
	}
	if resp.IsError() {
		return 0, qdrantResponseError(resp)
	}
	return out.Result.Count, nil
}

// Close REST客户端无需释放资源
func (q *QdrantStore) Close() error {
	return nil
}

// qdrantResponseError 从错误响应中提取信息
func qdrantResponseError(resp *resty.Response) error {
	var body qdrantError
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Status.Error != "" {
		if resp.StatusCode() == http.StatusNotFound {
			return fmt.Errorf("%w: qdrant: %s", ErrCollectionNotFound, body.Status.Error)
		}
		return fmt.Errorf("qdrant: %s (status %d)", body.Status.Error, resp.StatusCode())
	}
	if resp.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: qdrant status 404", ErrCollectionNotFound)
	}
	return fmt.Errorf("qdrant: request failed with status %d", resp.StatusCode())
}

func init() {
	RegisterStore("qdrant", NewQdrantStore)
}
