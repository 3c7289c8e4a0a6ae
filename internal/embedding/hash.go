package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// HashClient 基于特征哈希的本地嵌入客户端
// 不依赖外部服务，向量只反映词面重合度，用于本地开发和测试
type HashClient struct {
	dimensions int
}

// NewHashClient 创建本地哈希嵌入客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	dim := cfg.Dimensions
	if dim <= 0 {
		dim = defaultHashDimensions
	}
	return &HashClient{dimensions: dim}, nil
}

// Name 返回模型名称
func (h *HashClient) Name() string {
	return "hash"
}

// Embed 把文本中的词哈希到固定维度并做L2归一化
func (h *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	}

	vec := make([]float32, h.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		hasher := fnv.New32a()
		hasher.Write([]byte(w))
		sum := hasher.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%h.dimensions] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch 逐条生成向量
func (h *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func init() {
	RegisterClient("hash", NewHashClient)
}
