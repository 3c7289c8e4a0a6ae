package embedding

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/agni-rag/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashClient(t *testing.T) {
	client, err := NewClient("hash", WithDimensions(64))
	require.NoError(t, err)
	ctx := context.Background()

	a, err := client.Embed(ctx, "Gravitational waves from merging black holes")
	require.NoError(t, err)
	assert.Len(t, a, 64)

	t.Run("deterministic", func(t *testing.T) {
		b, err := client.Embed(ctx, "Gravitational waves from merging black holes")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("unit length", func(t *testing.T) {
		var norm float64
		for _, v := range a {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := client.Embed(ctx, "   ")
		assert.Error(t, err)
	})
}

func TestGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient()
	var embErr EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, ErrCodeInvalidAPIKey, embErr.Code)
}

// countingClient 记录实际请求的文本
type countingClient struct {
	mu    sync.Mutex
	texts []string
}

func (c *countingClient) Name() string { return "counting" }

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingClient) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		c.texts = append(c.texts, t)
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestCachedClient(t *testing.T) {
	mem, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	inner := &countingClient{}
	client := NewCachedClient(inner, mem, time.Hour, nil)
	ctx := context.Background()

	first, err := client.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)

	second, err := client.EmbedBatch(ctx, []string{"beta", "gamma", "alpha"})
	require.NoError(t, err)

	assert.Equal(t, first[1], second[0])
	assert.Equal(t, first[0], second[2])
	assert.Equal(t, []float32{5, 1}, second[1])
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, inner.texts)

	v, err := client.Embed(ctx, "gamma")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, v)
	assert.Len(t, inner.texts, 3)
	assert.Equal(t, "counting", client.Name())
}
