package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// 通义千问API端点
	defaultTongyiEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
)

// tongyiRequest 通义千问请求结构
type tongyiRequest struct {
	Model      string           `json:"model"`                // 模型名称
	Input      tongyiInput      `json:"input"`                // 输入内容
	Parameters tongyiParameters `json:"parameters,omitempty"` // 可选参数
}

type tongyiInput struct {
	Messages []Message `json:"messages"` // 消息列表
}

type tongyiParameters struct {
	Temperature  *float32 `json:"temperature,omitempty"`   // 采样温度
	MaxTokens    *int     `json:"max_tokens,omitempty"`    // 最大生成Token数
	ResultFormat string   `json:"result_format,omitempty"` // 返回格式，message或text
}

// tongyiResponse 通义千问响应结构
type tongyiResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		Text    *string `json:"text"`
		Choices []struct {
			FinishReason string  `json:"finish_reason"`
			Message      Message `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// TongyiClient 通义千问大模型客户端实现
type TongyiClient struct {
	http     *resty.Client
	endpoint string
	config   *Config
}

// NewTongyiClient 创建新的通义千问大模型客户端
func NewTongyiClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, ErrMsgInvalidAPIKey)
	}
	// 未指定通义模型时使用qwen-turbo
	if cfg.Model == ModelGeminiFlash {
		cfg.Model = ModelQwenTurbo
	}

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = defaultTongyiEndpoint
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

	return &TongyiClient{http: httpClient, endpoint: endpoint, config: cfg}, nil
}

// Name 返回模型名称
func (c *TongyiClient) Name() string {
	return c.config.Model
}

// Generate 根据提示词生成回答，系统指令作为system消息发送
func (c *TongyiClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	opts := applyGenerateOptions(c.config, options)

	var messages []Message
	if opts.SystemPrompt != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: opts.SystemPrompt})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	req := tongyiRequest{
		Model: c.config.Model,
		Input: tongyiInput{Messages: messages},
		Parameters: tongyiParameters{
			Temperature:  opts.Temperature,
			MaxTokens:    opts.MaxTokens,
			ResultFormat: "message",
		},
	}

	var out, apiErr tongyiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(c.endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, NewLLMError(ErrCodeTimeout, err.Error())
		}
		return nil, NewLLMError(ErrCodeNetworkError, fmt.Sprintf("request failed: %v", err))
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
		return nil, NewLLMError(code, fmt.Sprintf("API error (status %d): %s", resp.StatusCode(), msg))
	}
	if out.Code != "" {
		return nil, NewLLMError(ErrCodeServerError, fmt.Sprintf("API error: %s (%s)", out.Message, out.Code))
	}

	result := &Response{
		ModelName:  c.config.Model,
		TokenCount: out.Usage.TotalTokens,
		FinishTime: time.Now(),
	}
	switch {
	case out.Output.Text != nil:
		result.Text = *out.Output.Text
	case len(out.Output.Choices) > 0:
		result.Text = out.Output.Choices[0].Message.Content
		result.FinishReason = out.Output.Choices[0].FinishReason
	default:
		return nil, NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)
	}
	return result, nil
}
