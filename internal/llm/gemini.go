package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient Google Gemini大模型客户端
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient 创建Gemini大模型客户端
func NewGeminiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}

	clientOpts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.BaseURL))
	}
	cl, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("failed to create gemini client: %v", err))
	}

	return &GeminiClient{client: cl, config: cfg}, nil
}

// Name 返回模型名称
func (g *GeminiClient) Name() string {
	return g.config.Model
}

// Close 关闭底层连接
func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// Generate 根据提示词生成回答
func (g *GeminiClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	opts := applyGenerateOptions(g.config, options)

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	m := g.client.GenerativeModel(g.config.Model)
	if opts.SystemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(opts.SystemPrompt)},
		}
	}
	if opts.Temperature != nil {
		m.SetTemperature(*opts.Temperature)
	}
	if opts.MaxTokens != nil && *opts.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(*opts.MaxTokens))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewLLMError(ErrCodeTimeout, err.Error())
		}
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("gemini generate: %v", err))
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return nil, NewLLMError(ErrCodeContentFilter, ErrMsgContentFilter)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)
	}

	candidate := resp.Candidates[0]
	var b strings.Builder
	for _, p := range candidate.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	result := &Response{
		Text:         b.String(),
		ModelName:    g.config.Model,
		FinishReason: candidate.FinishReason.String(),
		FinishTime:   time.Now(),
	}
	if resp.UsageMetadata != nil {
		result.TokenCount = int(resp.UsageMetadata.TotalTokenCount)
	}
	return result, nil
}
