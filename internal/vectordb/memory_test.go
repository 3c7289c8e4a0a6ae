package vectordb

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newID(s string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(s)).String()
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(Config{Type: "memory"})
	require.NoError(t, err)
	defer store.Close()

	exists, err := store.CollectionExists(ctx, "docs")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateCollection(ctx, "docs", 3, Cosine))
	assert.ErrorIs(t, store.CreateCollection(ctx, "docs", 3, Cosine), ErrCollectionExists)

	exists, err = store.CollectionExists(ctx, "docs")
	require.NoError(t, err)
	assert.True(t, exists)

	points := []Point{
		{ID: newID("a"), Vector: []float32{1, 0, 0}, Payload: map[string]any{"content": "a"}},
		{ID: newID("b"), Vector: []float32{0, 1, 0}, Payload: map[string]any{"content": "b"}},
		{ID: newID("c"), Vector: []float32{0.9, 0.1, 0}, Payload: map[string]any{"content": "c"}},
	}
	require.NoError(t, store.Upsert(ctx, "docs", points))

	t.Run("search ordered by score", func(t *testing.T) {
		results, err := store.Search(ctx, "docs", []float32{1, 0, 0}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a", results[0].Payload["content"])
		assert.Equal(t, "c", results[1].Payload["content"])
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("upsert overwrites same id", func(t *testing.T) {
		require.NoError(t, store.Upsert(ctx, "docs", []Point{
			{ID: newID("a"), Vector: []float32{0, 0, 1}, Payload: map[string]any{"content": "a2"}},
		}))
		n, err := store.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		results, err := store.Search(ctx, "docs", []float32{0, 0, 1}, 1)
		require.NoError(t, err)
		assert.Equal(t, "a2", results[0].Payload["content"])
	})

	t.Run("invalid batch rejected atomically", func(t *testing.T) {
		err := store.Upsert(ctx, "docs", []Point{
			{ID: newID("d"), Vector: []float32{1, 1, 1}},
			{ID: newID("e"), Vector: []float32{1, 1}},
		})
		assert.ErrorIs(t, err, ErrInvalidDimension)
		n, err := store.Count(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("non uuid id rejected", func(t *testing.T) {
		err := store.Upsert(ctx, "docs", []Point{{ID: "not-a-uuid", Vector: []float32{1, 1, 1}}})
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("missing collection", func(t *testing.T) {
		err := store.Upsert(ctx, "missing", points)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		_, err = store.Search(ctx, "missing", []float32{1, 0, 0}, 1)
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})
}

func TestComputeDistance(t *testing.T) {
	tests := []struct {
		name     string
		distance DistanceType
		a, b     []float32
		want     float32
	}{
		{"cosine identical", Cosine, []float32{1, 2}, []float32{2, 4}, 0},
		{"cosine orthogonal", Cosine, []float32{1, 0}, []float32{0, 1}, 1},
		{"dot", DotProduct, []float32{1, 2}, []float32{3, 4}, 11},
		{"l2", Euclidean, []float32{0, 0}, []float32{3, 4}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeDistance(tt.a, tt.b, tt.distance)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}

	_, err := ComputeDistance([]float32{1}, []float32{1, 2}, Cosine)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestParseDistance(t *testing.T) {
	for in, want := range map[string]DistanceType{"": Cosine, "Cosine": Cosine, "dot": DotProduct, "euclid": Euclidean, "l2": Euclidean} {
		got, err := ParseDistance(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDistance("manhattan")
	assert.Error(t, err)
}
