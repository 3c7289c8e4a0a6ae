package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fyerfyer/agni-rag/internal/document"
	"github.com/fyerfyer/agni-rag/internal/embedding"
	"github.com/fyerfyer/agni-rag/internal/vectordb"
	"github.com/jung-kurt/gofpdf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writePDF(t *testing.T, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for _, text := range pages {
		pdf.AddPage()
		if text != "" {
			pdf.MultiCell(0, 10, text, "", "", false)
		}
	}
	require.NoError(t, pdf.OutputFileAndClose(path))
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestOrchestrator(t *testing.T, embedder embedding.Client, store vectordb.Store, opts ...Option) *Orchestrator {
	t.Helper()
	assembler, err := document.NewAssembler(document.DefaultSplitterConfig())
	require.NoError(t, err)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewOrchestrator(assembler, embedder, store, opts...)
}

func hashEmbedder(t *testing.T) embedding.Client {
	t.Helper()
	client, err := embedding.NewHashClient(embedding.WithDimensions(32))
	require.NoError(t, err)
	return client
}

func memoryStore(t *testing.T) vectordb.Store {
	t.Helper()
	store, err := vectordb.NewMemoryStore(vectordb.Config{})
	require.NoError(t, err)
	return store
}

// stubEmbedder 可控的嵌入客户端
type stubEmbedder struct {
	embedding.Client
	err   error
	batch func(texts []string) [][]float32
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.batch != nil {
		return s.batch(texts), nil
	}
	return s.Client.EmbedBatch(ctx, texts)
}

// flakyStore 在指定次数的写入后失败
type flakyStore struct {
	vectordb.Store
	mu          sync.Mutex
	upserts     int
	failAfter   int
	existsLies  bool
	createCalls int
}

func (f *flakyStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	if f.existsLies {
		return false, nil
	}
	return f.Store.CollectionExists(ctx, name)
}

func (f *flakyStore) CreateCollection(ctx context.Context, name string, dim int, distance vectordb.DistanceType) error {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	return f.Store.CreateCollection(ctx, name, dim, distance)
}

func (f *flakyStore) Upsert(ctx context.Context, collection string, points []vectordb.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && f.upserts >= f.failAfter {
		return errors.New("connection reset by peer")
	}
	f.upserts++
	return f.Store.Upsert(ctx, collection, points)
}

func TestIngestPDF(t *testing.T) {
	store := memoryStore(t)
	var states []State
	o := newTestOrchestrator(t, hashEmbedder(t), store,
		WithStateObserver(func(_ Request, _, to State) { states = append(states, to) }))

	path := writePDF(t, "handbook.pdf",
		"Vacation policy allows twenty days per year.",
		"Remote work requires manager approval.",
		"",
		"Expense reports are due monthly.",
		"Security training is mandatory.")

	result, err := o.Ingest(context.Background(), Request{Filename: "handbook.pdf", Path: path})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "handbook.pdf", result.Filename)
	assert.Equal(t, 4, result.ChunksProcessed)
	assert.Equal(t, SuccessMessage, result.Message)
	assert.Equal(t, []State{StateExtracted, StateSplit, StateEmbedded, StateUpserted, StateDone}, states)

	count, err := store.Count(context.Background(), DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	hits, err := store.Search(context.Background(), DefaultCollection, mustEmbed(t, "Remote work requires manager approval."), 4)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	pages := map[int]bool{}
	for _, h := range hits {
		meta := hitMetadata(t, h)
		assert.Equal(t, "handbook.pdf", meta["source"])
		assert.Equal(t, "handbook.pdf", h.Payload["name"])
		pages[meta["page"].(int)] = true
	}
	assert.False(t, pages[3], "blank page must not produce chunks")
}

func hitMetadata(t *testing.T, hit vectordb.SearchResult) map[string]any {
	t.Helper()
	meta, ok := hit.Payload[document.MetadataKey].(map[string]any)
	require.True(t, ok, "payload must nest metadata under %s", document.MetadataKey)
	return meta
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := hashEmbedder(t).Embed(context.Background(), text)
	require.NoError(t, err)
	return v
}

func TestIngestIsIdempotent(t *testing.T) {
	store := memoryStore(t)
	o := newTestOrchestrator(t, hashEmbedder(t), store)
	path := writeFile(t, "notes.txt", "first page\fsecond page\fthird page")
	req := Request{Filename: "notes.txt", Path: path}

	first, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, first.ChunksProcessed)

	second, err := o.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, second.ChunksProcessed)

	count, err := store.Count(context.Background(), DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestIngestDuplicateContentAcrossFiles(t *testing.T) {
	store := memoryStore(t)
	o := newTestOrchestrator(t, hashEmbedder(t), store)

	_, err := o.Ingest(context.Background(), Request{Filename: "a.txt", Path: writeFile(t, "a.txt", "shared paragraph")})
	require.NoError(t, err)
	_, err = o.Ingest(context.Background(), Request{Filename: "b.txt", Path: writeFile(t, "b.txt", "shared paragraph")})
	require.NoError(t, err)

	count, err := store.Count(context.Background(), DefaultCollection)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	hits, err := store.Search(context.Background(), DefaultCollection, mustEmbed(t, "shared paragraph"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b.txt", hitMetadata(t, hits[0])["source"])
}

func TestIngestNoContent(t *testing.T) {
	store := &flakyStore{Store: memoryStore(t), failAfter: -1}
	var states []State
	o := newTestOrchestrator(t, hashEmbedder(t), store,
		WithStateObserver(func(_ Request, _, to State) { states = append(states, to) }))

	path := writeFile(t, "blank.txt", "   \n\n\t  \f  ")
	result, err := o.Ingest(context.Background(), Request{Filename: "blank.txt", Path: path})
	require.Error(t, err)
	assert.Equal(t, NoContentExtracted, KindOf(err))
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 0, result.ChunksProcessed)
	assert.Equal(t, StateFailed, states[len(states)-1])
	assert.Zero(t, store.createCalls)
}

func TestIngestUnreadable(t *testing.T) {
	o := newTestOrchestrator(t, hashEmbedder(t), memoryStore(t))

	t.Run("missing file", func(t *testing.T) {
		dir := t.TempDir()
		result, err := o.Ingest(context.Background(), Request{Filename: "gone.txt", Path: filepath.Join(dir, "gone.txt")})
		require.Error(t, err)
		assert.Equal(t, UnreadableDocument, KindOf(err))
		assert.ErrorIs(t, err, document.ErrUnreadableDocument)
		assert.Equal(t, StatusFailed, result.Status)
		assert.Contains(t, result.Message, "gone.txt")
		assert.NotContains(t, result.Message, dir)
	})

	t.Run("unsupported type", func(t *testing.T) {
		path := writeFile(t, "sheet.xlsx", "binary")
		_, err := o.Ingest(context.Background(), Request{Filename: "sheet.xlsx", Path: path})
		assert.Equal(t, UnreadableDocument, KindOf(err))
		assert.ErrorIs(t, err, document.ErrUnsupportedType)
	})

	t.Run("corrupt pdf", func(t *testing.T) {
		path := writeFile(t, "broken.pdf", "%PDF-1.4 this is not a pdf")
		_, err := o.Ingest(context.Background(), Request{Filename: "broken.pdf", Path: path})
		assert.Equal(t, UnreadableDocument, KindOf(err))
	})

	t.Run("truncated pdf", func(t *testing.T) {
		path := writeFile(t, "trunc.pdf", "%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
		var (
			result *Result
			err    error
		)
		require.NotPanics(t, func() {
			result, err = o.Ingest(context.Background(), Request{Filename: "trunc.pdf", Path: path})
		})
		assert.Equal(t, UnreadableDocument, KindOf(err))
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, "trunc.pdf", result.Filename)
		assert.NotContains(t, result.Message, filepath.Dir(path))
	})
}

func TestIngestEmbeddingFailure(t *testing.T) {
	path := writeFile(t, "doc.txt", "alpha\fbeta\fgamma")

	cases := []struct {
		name     string
		embedder *stubEmbedder
	}{
		{
			name:     "provider error",
			embedder: &stubEmbedder{err: embedding.NewEmbeddingError(embedding.ErrCodeRateLimited, "rate limit exceeded")},
		},
		{
			name: "short response",
			embedder: &stubEmbedder{batch: func(texts []string) [][]float32 {
				return [][]float32{{1, 0}}
			}},
		},
		{
			name: "inconsistent dimensions",
			embedder: &stubEmbedder{batch: func(texts []string) [][]float32 {
				out := make([][]float32, len(texts))
				for i := range texts {
					out[i] = make([]float32, 2+i)
					out[i][0] = 1
				}
				return out
			}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memoryStore(t)
			o := newTestOrchestrator(t, tc.embedder, store)
			result, err := o.Ingest(context.Background(), Request{Filename: "doc.txt", Path: path})
			require.Error(t, err)
			assert.Equal(t, EmbeddingFailure, KindOf(err))
			assert.Equal(t, StatusFailed, result.Status)

			exists, err := store.CollectionExists(context.Background(), DefaultCollection)
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestIngestStoreFailure(t *testing.T) {
	path := writeFile(t, "doc.txt", "alpha\fbeta\fgamma")

	t.Run("first batch", func(t *testing.T) {
		store := &flakyStore{Store: memoryStore(t), failAfter: 0}
		o := newTestOrchestrator(t, hashEmbedder(t), store, WithBatchSize(1))
		result, err := o.Ingest(context.Background(), Request{Filename: "doc.txt", Path: path})
		require.Error(t, err)
		assert.Equal(t, StoreFailure, KindOf(err))
		assert.Equal(t, StatusFailed, result.Status)
		assert.Equal(t, 0, result.ChunksProcessed)
	})

	t.Run("after some batches", func(t *testing.T) {
		store := &flakyStore{Store: memoryStore(t), failAfter: 1}
		o := newTestOrchestrator(t, hashEmbedder(t), store, WithBatchSize(1))
		result, err := o.Ingest(context.Background(), Request{Filename: "doc.txt", Path: path})
		require.Error(t, err)
		assert.Equal(t, StoreFailure, KindOf(err))
		assert.Equal(t, StatusPartial, result.Status)
		assert.Equal(t, 1, result.ChunksProcessed)
		assert.True(t, strings.HasPrefix(result.Message, "Ingestion failed"))
	})
}

func TestIngestCollectionCreatedConcurrently(t *testing.T) {
	inner := memoryStore(t)
	require.NoError(t, inner.CreateCollection(context.Background(), DefaultCollection, 32, vectordb.Cosine))

	store := &flakyStore{Store: inner, failAfter: -1, existsLies: true}
	o := newTestOrchestrator(t, hashEmbedder(t), store)

	result, err := o.Ingest(context.Background(), Request{Filename: "doc.txt", Path: writeFile(t, "doc.txt", "content")})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, 1, store.createCalls)
}

func TestIngestCustomCollection(t *testing.T) {
	store := memoryStore(t)
	o := newTestOrchestrator(t, hashEmbedder(t), store, WithCollection("manuals"), WithDistance(vectordb.DotProduct))
	assert.Equal(t, "manuals", o.Collection())

	_, err := o.Ingest(context.Background(), Request{Filename: "doc.txt", Path: writeFile(t, "doc.txt", "content")})
	require.NoError(t, err)

	count, err := store.Count(context.Background(), "manuals")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngestCanceled(t *testing.T) {
	o := newTestOrchestrator(t, hashEmbedder(t), memoryStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Ingest(ctx, Request{Filename: "doc.txt", Path: writeFile(t, "doc.txt", "content")})
	require.Error(t, err)
	assert.Equal(t, Canceled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, result.Status)
}

// cancelingEmbedder 取消上下文后返回丢失了原始错误链的超时错误
type cancelingEmbedder struct {
	embedding.Client
	cancel context.CancelFunc
}

func (c *cancelingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	c.cancel()
	return nil, embedding.NewEmbeddingError(embedding.ErrCodeTimeout, "context canceled")
}

// cancelingStore 第一批写入成功，之后取消上下文并返回错误
type cancelingStore struct {
	vectordb.Store
	cancel  context.CancelFunc
	upserts int
}

func (c *cancelingStore) Upsert(ctx context.Context, collection string, points []vectordb.Point) error {
	if c.upserts > 0 {
		c.cancel()
		return errors.New("request aborted")
	}
	c.upserts++
	return c.Store.Upsert(ctx, collection, points)
}

func TestIngestCanceledMidway(t *testing.T) {
	t.Run("during embedding", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		o := newTestOrchestrator(t, &cancelingEmbedder{Client: hashEmbedder(t), cancel: cancel}, memoryStore(t))

		result, err := o.Ingest(ctx, Request{Filename: "doc.txt", Path: writeFile(t, "doc.txt", "content")})
		require.Error(t, err)
		assert.Equal(t, Canceled, KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("during upsert", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		store := &cancelingStore{Store: memoryStore(t), cancel: cancel}
		o := newTestOrchestrator(t, hashEmbedder(t), store, WithBatchSize(1))

		result, err := o.Ingest(ctx, Request{Filename: "doc.txt", Path: writeFile(t, "doc.txt", "alpha\fbeta\fgamma")})
		require.Error(t, err)
		assert.Equal(t, Canceled, KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, StatusPartial, result.Status)
		assert.Equal(t, 1, result.ChunksProcessed)
	})
}

func TestIngestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, hashEmbedder(t), memoryStore(t), WithMetrics(metrics))

	_, err := o.Ingest(context.Background(), Request{Filename: "a.txt", Path: writeFile(t, "a.txt", "one\ftwo")})
	require.NoError(t, err)
	_, err = o.Ingest(context.Background(), Request{Filename: "b.txt", Path: writeFile(t, "b.txt", " ")})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ingestions.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ingestions.WithLabelValues("failed", string(NoContentExtracted))))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.chunks))
}

func TestStateMachine(t *testing.T) {
	assert.True(t, canTransition(StateReceived, StateExtracted))
	assert.True(t, canTransition(StateEmbedded, StateFailed))
	assert.False(t, canTransition(StateReceived, StateEmbedded))
	assert.False(t, canTransition(StateDone, StateFailed))
	assert.False(t, canTransition(StateFailed, StateDone))

	m := newMachine(nil)
	assert.Panics(t, func() { m.advance(StateUpserted) })
}
