package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant 模拟Qdrant REST接口的最小子集
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]map[string]qdrantPoint
	legacy      bool // 旧版本对重复创建返回400
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}
	notFound := func(w http.ResponseWriter, name string) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"status": map[string]any{"error": "Not found: Collection `" + name + "` doesn't exist!"},
		})
	}

	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.collections[r.PathValue("name")]; !ok {
			notFound(w, r.PathValue("name"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": map[string]any{}})
	})

	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Cosine", body.Vectors.Distance)
		assert.Positive(t, body.Vectors.Size)

		f.mu.Lock()
		defer f.mu.Unlock()
		name := r.PathValue("name")
		if _, ok := f.collections[name]; ok {
			code := http.StatusConflict
			if f.legacy {
				code = http.StatusBadRequest
			}
			writeJSON(w, code, map[string]any{
				"status": map[string]any{"error": "Wrong input: Collection `" + name + "` already exists!"},
			})
			return
		}
		f.collections[name] = map[string]qdrantPoint{}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": true})
	})

	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		var body struct {
			Points []qdrantPoint `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.collections[r.PathValue("name")]
		if !ok {
			notFound(w, r.PathValue("name"))
			return
		}
		for _, p := range body.Points {
			c[p.ID] = p
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": map[string]any{"status": "completed"}})
	})

	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Vector []float32 `json:"vector"`
			Limit  int       `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		f.mu.Lock()
		defer f.mu.Unlock()
		var result []map[string]any
		for _, p := range f.collections[r.PathValue("name")] {
			d, _ := ComputeDistance(body.Vector, p.Vector, Cosine)
			result = append(result, map[string]any{"id": p.ID, "score": 1 - d, "payload": p.Payload})
			if len(result) == body.Limit {
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": result})
	})

	mux.HandleFunc("POST /collections/{name}/points/count", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		n := len(f.collections[r.PathValue("name")])
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "result": map[string]any{"count": n}})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		mux.ServeHTTP(w, r)
	})
}

func newFakeQdrant(t *testing.T, legacy bool) (Store, *httptest.Server) {
	fake := &fakeQdrant{collections: map[string]map[string]qdrantPoint{}, legacy: legacy}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	store, err := NewStore(Config{Type: "qdrant", URL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)
	require.IsType(t, &QdrantStore{}, store)
	return store, srv
}

func TestQdrantStore(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeQdrant(t, false)

	exists, err := store.CollectionExists(ctx, "agni_rag_documents")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateCollection(ctx, "agni_rag_documents", 2, Cosine))
	assert.ErrorIs(t, store.CreateCollection(ctx, "agni_rag_documents", 2, Cosine), ErrCollectionExists)

	exists, err = store.CollectionExists(ctx, "agni_rag_documents")
	require.NoError(t, err)
	assert.True(t, exists)

	id := newID("chunk")
	require.NoError(t, store.Upsert(ctx, "agni_rag_documents", []Point{
		{ID: id, Vector: []float32{1, 0}, Payload: map[string]any{"meta_data": map[string]any{"source": "a.pdf", "page": 1}, "content": "hello", "name": "a.pdf"}},
	}))
	require.NoError(t, store.Upsert(ctx, "agni_rag_documents", []Point{
		{ID: id, Vector: []float32{1, 0}, Payload: map[string]any{"meta_data": map[string]any{"source": "a.pdf", "page": 1}, "content": "hello", "name": "a.pdf"}},
	}))

	n, err := store.Count(ctx, "agni_rag_documents")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := store.Search(ctx, "agni_rag_documents", []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, "hello", results[0].Payload["content"])
	assert.Equal(t, map[string]any{"source": "a.pdf", "page": float64(1)}, results[0].Payload["meta_data"])
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestQdrantStoreErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("legacy already exists response", func(t *testing.T) {
		store, _ := newFakeQdrant(t, true)
		require.NoError(t, store.CreateCollection(ctx, "docs", 2, Cosine))
		assert.ErrorIs(t, store.CreateCollection(ctx, "docs", 2, Cosine), ErrCollectionExists)
	})

	t.Run("upsert into missing collection", func(t *testing.T) {
		store, _ := newFakeQdrant(t, false)
		err := store.Upsert(ctx, "missing", []Point{{ID: newID("x"), Vector: []float32{1, 0}}})
		assert.ErrorIs(t, err, ErrCollectionNotFound)
		assert.Contains(t, err.Error(), "doesn't exist")
	})

	t.Run("url required", func(t *testing.T) {
		_, err := NewQdrantStore(Config{})
		assert.Error(t, err)
	})
}
