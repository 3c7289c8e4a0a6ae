package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiEmbeddingModel = "text-embedding-004"

// GeminiClient Google Gemini嵌入客户端
type GeminiClient struct {
	client    *genai.Client
	model     string
	batchSize int
}

// NewGeminiClient 创建Gemini嵌入客户端
func NewGeminiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}
	cl, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeNetworkError, fmt.Sprintf("failed to create gemini client: %v", err))
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiEmbeddingModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 100 {
		batchSize = 100
	}

	return &GeminiClient{client: cl, model: model, batchSize: batchSize}, nil
}

// Name 返回模型名称
func (g *GeminiClient) Name() string {
	return g.model
}

// Embed 生成单条文本的向量表示
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	resp, err := g.client.EmbeddingModel(g.model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("gemini embed: %v", err))
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, NewEmbeddingError(ErrCodeBadResponse, "gemini returned no embedding")
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch 批量生成文本的向量表示
func (g *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.model)

	out := make([][]float32, 0, len(texts))
	for _, chunk := range batches(texts, g.batchSize) {
		batch := em.NewBatch()
		for _, t := range chunk {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, NewEmbeddingError(ErrCodeServerError, fmt.Sprintf("gemini batch embed: %v", err))
		}
		if len(resp.Embeddings) != len(chunk) {
			return nil, NewEmbeddingError(ErrCodeBadResponse,
				fmt.Sprintf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(chunk)))
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// Close 关闭底层连接
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func init() {
	RegisterClient("gemini", NewGeminiClient)
}
