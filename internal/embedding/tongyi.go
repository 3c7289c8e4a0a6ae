package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultDashScopeEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/embeddings/text-embedding/text-embedding"
	defaultTongyiModel       = "text-embedding-v3"
	defaultTongyiDimensions  = 1024
)

// dashScopeRequest DashScope原生接口请求体
type dashScopeRequest struct {
	Model      string              `json:"model"`
	Input      dashScopeInput      `json:"input"`
	Parameters *dashScopeParameter `json:"parameters,omitempty"`
}

type dashScopeInput struct {
	Texts []string `json:"texts"`
}

type dashScopeParameter struct {
	Dimension  int    `json:"dimension,omitempty"`
	OutputType string `json:"output_type,omitempty"`
}

// dashScopeResponse DashScope原生接口响应体
type dashScopeResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		Embeddings []struct {
			Embedding []float32 `json:"embedding"`
			TextIndex int       `json:"text_index"`
		} `json:"embeddings"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// dashScopeError DashScope错误响应体
type dashScopeError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// TongyiClient 通义千问(DashScope)嵌入客户端
type TongyiClient struct {
	http       *resty.Client
	endpoint   string
	model      string
	dimensions int
	batchSize  int
}

// NewTongyiClient 创建新的通义千问嵌入客户端
// 网络错误、限流和5xx响应由客户端按指数退避重试
func NewTongyiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultDashScopeEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = defaultTongyiModel
	}
	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = defaultTongyiDimensions
	}
	batchSize := cfg.BatchSize
	if model == "text-embedding-v3" && (batchSize <= 0 || batchSize > 10) {
		// v3模型单次最多10条
		batchSize = 10
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return &TongyiClient{
		http:       httpClient,
		endpoint:   endpoint,
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
	}, nil
}

// Name 返回模型名称
func (c *TongyiClient) Name() string {
	return c.model
}

// Embed 生成单条文本的向量表示
func (c *TongyiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成文本的向量表示
// 超过单次请求上限时拆分为多次请求
func (c *TongyiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if slices.Contains(texts, "") {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	result := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, c.batchSize) {
		vectors, err := c.embedDashScope(ctx, batch)
		if err != nil {
			return nil, err
		}
		result = append(result, vectors...)
	}
	return result, nil
}

// embedDashScope 调用DashScope原生接口
func (c *TongyiClient) embedDashScope(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := dashScopeRequest{
		Model: c.model,
		Input: dashScopeInput{Texts: texts},
	}
	if c.model == "text-embedding-v3" {
		reqBody.Parameters = &dashScopeParameter{Dimension: c.dimensions, OutputType: "dense"}
	}

	var (
		out    dashScopeResponse
		apiErr dashScopeError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewEmbeddingError(ErrCodeTimeout, err.Error())
		}
		return nil, NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.String()
		}
		code := ErrCodeServerError
		switch resp.StatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			code = ErrCodeInvalidAPIKey
		case http.StatusTooManyRequests:
			code = ErrCodeRateLimited
		case http.StatusBadRequest:
			code = ErrCodeInvalidRequest
		}
		return nil, NewEmbeddingError(code, fmt.Sprintf("API error (status %d): %s", resp.StatusCode(), msg))
	}

	// 按text_index还原输入顺序
	vectors := make([][]float32, len(texts))
	for _, emb := range out.Output.Embeddings {
		if emb.TextIndex < 0 || emb.TextIndex >= len(texts) {
			continue
		}
		vectors[emb.TextIndex] = emb.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, NewEmbeddingError(ErrCodeBadResponse, fmt.Sprintf("missing embedding for text %d", i))
		}
	}
	return vectors, nil
}

func init() {
	RegisterClient("tongyi", NewTongyiClient)
}
