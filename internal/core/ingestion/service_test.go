package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

// --- stubs ---

type memRepo struct {
	mu     sync.Mutex
	docs   map[string]*Document
	chunks map[string][]*StoredChunk
}

func newMemRepo() *memRepo {
	return &memRepo{docs: map[string]*Document{}, chunks: map[string][]*StoredChunk{}}
}

func (r *memRepo) CreateDocument(_ context.Context, doc *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := *doc
	r.docs[doc.ID] = &d
	return nil
}

func (r *memRepo) GetDocument(_ context.Context, id string) (mo.Option[*Document], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return mo.None[*Document](), nil
	}
	cp := *d
	return mo.Some(&cp), nil
}

func (r *memRepo) ListDocuments(_ context.Context) ([]*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Document
	for _, d := range r.docs {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRepo) UpdateDocumentStatus(_ context.Context, id string, status DocumentStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[id]
	if !ok {
		return nil
	}
	d.Status = status
	d.ErrorMsg = errMsg
	return nil
}

func (r *memRepo) MarkDocumentReady(_ context.Context, id string, chunkCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.docs[id]; ok {
		d.Status = StatusReady
		d.ChunkCount = chunkCount
	}
	return nil
}

func (r *memRepo) DeleteDocument(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

func (r *memRepo) InsertChunks(_ context.Context, chunks []*StoredChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chunks {
		r.chunks[c.DocumentID] = append(r.chunks[c.DocumentID], c)
	}
	return nil
}

func (r *memRepo) ListChunks(_ context.Context, documentID string) ([]*StoredChunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chunks[documentID]), nil
}

func (r *memRepo) DeleteChunks(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, documentID)
	return nil
}

type fileExtractor struct{}

func (fileExtractor) ExtractText(_ context.Context, path, _ string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// indexEmbedder は "t<N>" に対して [N] を返し、それ以外は文字数を返す
type indexEmbedder struct {
	calls   atomic.Int32
	failOn  int32 // この回数目の呼び出しで失敗（0 なら失敗しない）
	lastCfg atomic.Value
}

func (e *indexEmbedder) Embed(ctx context.Context, text string, cfg llm.EmbeddingConfig) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text}, cfg)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *indexEmbedder) EmbedBatch(_ context.Context, texts []string, cfg llm.EmbeddingConfig) ([][]float32, error) {
	n := e.calls.Add(1)
	e.lastCfg.Store(cfg)
	if e.failOn > 0 && n >= e.failOn {
		return nil, errors.New("embedding unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, err := strconv.Atoi(strings.TrimPrefix(t, "t")); err == nil && strings.HasPrefix(t, "t") {
			out[i] = []float32{float32(v)}
			continue
		}
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type memIndex struct {
	mu      sync.Mutex
	records []vectorindex.Record
	addErr  error
}

func (i *memIndex) Add(_ context.Context, records []vectorindex.Record) error {
	if i.addErr != nil {
		return i.addErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = append(i.records, records...)
	return nil
}

func (i *memIndex) DeleteByDocument(_ context.Context, documentID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = slices.DeleteFunc(i.records, func(r vectorindex.Record) bool {
		return r.DocumentID == documentID
	})
	return nil
}

func (i *memIndex) Search(context.Context, []float32, int, float64) ([]vectorindex.SearchResult, error) {
	return nil, nil
}

func (i *memIndex) Clear(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records = nil
	return nil
}

func (i *memIndex) Stats(context.Context) (vectorindex.Stats, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return vectorindex.Stats{Count: len(i.records)}, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(context.Context, settings.Patch) (settings.Settings, error) {
	return settings.Settings{Model: settings.Model{EmbeddingModel: "embed-test", BaseURL: "http://embed"}}, nil
}

type fixture struct {
	svc      *Service
	repo     *memRepo
	index    *memIndex
	embedder *indexEmbedder
	dir      string
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMemRepo(),
		index:    &memIndex{},
		embedder: &indexEmbedder{},
		dir:      t.TempDir(),
	}
	opts = append([]ServiceOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithChunking(20, 5),
	}, opts...)
	f.svc = NewService(f.repo, fileExtractor{}, f.embedder, f.index, stubResolver{}, f.dir, opts...)
	return f
}

const sampleText = "alpha beta gamma delta epsilon zeta eta theta iota kappa lambda mu"

// --- embedAll ---

func TestEmbedAll_PreservesOrder(t *testing.T) {
	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	embedder := &indexEmbedder{}

	out, err := embedAll(context.Background(), embedder, llm.EmbeddingConfig{}, texts, PipelineConfig{
		EmbeddingWorkerCount: 3,
		EmbeddingBatchSize:   4,
	})
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, v := range out {
		assert.Equal(t, []float32{float32(i)}, v, "index %d", i)
	}
	assert.Equal(t, int32(6), embedder.calls.Load())
}

func TestEmbedAll_Empty(t *testing.T) {
	embedder := &indexEmbedder{}
	out, err := embedAll(context.Background(), embedder, llm.EmbeddingConfig{}, nil, DefaultPipelineConfig())
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, embedder.calls.Load())
}

func TestEmbedAll_ReturnsFirstError(t *testing.T) {
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	embedder := &indexEmbedder{failOn: 2}

	_, err := embedAll(context.Background(), embedder, llm.EmbeddingConfig{}, texts, PipelineConfig{
		EmbeddingWorkerCount: 2,
		EmbeddingBatchSize:   2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding unavailable")
}

// --- Service ---

func TestService_IngestStoresChunksAndVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, strings.NewReader(sampleText), Upload{
		OriginalName: "Notes.TXT",
		MimeType:     "text/plain",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusReady, doc.Status)
	assert.Equal(t, doc.ID+".txt", doc.Filename)
	assert.Equal(t, int64(len(sampleText)), doc.FileSize)
	assert.Nil(t, doc.ErrorMsg)

	stored, err := os.ReadFile(filepath.Join(f.dir, doc.Filename))
	require.NoError(t, err)
	assert.Equal(t, sampleText, string(stored))

	chunks, err := f.svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, len(chunks), doc.ChunkCount)
	require.Len(t, f.index.records, len(chunks))

	for i, c := range chunks {
		rec := f.index.records[i]
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, c.ID, rec.ID)
		assert.Equal(t, c.Content, rec.Content)
		assert.Equal(t, "Notes.TXT", rec.DocumentName)
		assert.Equal(t, doc.ID, rec.DocumentID)
		assert.Equal(t, []float32{float32(len(c.Content)), 1}, rec.Embedding)
	}

	cfg, ok := f.embedder.lastCfg.Load().(llm.EmbeddingConfig)
	require.True(t, ok)
	assert.Equal(t, "embed-test", cfg.Model)
	assert.Equal(t, "http://embed", cfg.BaseURL)
}

func TestService_ProcessEmbeddingFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.embedder.failOn = 1
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, strings.NewReader(sampleText), Upload{OriginalName: "a.txt", MimeType: "text/plain"})
	require.Error(t, err)
	require.NotNil(t, doc)

	got, err := f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	require.NotNil(t, got.ErrorMsg)
	assert.Contains(t, *got.ErrorMsg, "embedding unavailable")

	chunks, err := f.svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Empty(t, f.index.records)
}

func TestService_ProcessIndexFailureRollsBackChunks(t *testing.T) {
	f := newFixture(t)
	f.index.addErr = errors.New("disk full")
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, strings.NewReader(sampleText), Upload{OriginalName: "a.txt", MimeType: "text/plain"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	chunks, err := f.svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	got, err := f.svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, got.Status)
	assert.Zero(t, got.ChunkCount)
}

func TestService_ProcessEmptyDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, strings.NewReader(" \n\t "), Upload{OriginalName: "blank.md", MimeType: "text/markdown"})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)

	chunks, err := f.svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].CharCount)
	require.Len(t, f.index.records, 1)
	assert.Equal(t, int32(1), f.embedder.calls.Load())
}

func TestService_GetNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestService_ListAndChunksEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	docs, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	chunks, err := f.svc.Chunks(ctx, "unknown")
	require.NoError(t, err)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)
}

func TestService_Content(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, err := f.svc.Ingest(ctx, strings.NewReader(sampleText), Upload{OriginalName: "a.md", MimeType: "text/markdown"})
	require.NoError(t, err)

	content, err := f.svc.Content(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, sampleText, content.Content)
	assert.Equal(t, "text/markdown", content.MimeType)
	assert.Equal(t, "a.md", content.OriginalName)
	assert.Equal(t, doc.Filename, content.Filename)

	require.NoError(t, os.Remove(filepath.Join(f.dir, doc.Filename)))
	_, err = f.svc.Content(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentFileNotFound)

	_, err = f.svc.Content(ctx, "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	keep, err := f.svc.Ingest(ctx, strings.NewReader("keep this document"), Upload{OriginalName: "keep.txt", MimeType: "text/plain"})
	require.NoError(t, err)
	doc, err := f.svc.Ingest(ctx, strings.NewReader(sampleText), Upload{OriginalName: "a.txt", MimeType: "text/plain"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, doc.ID))

	_, err = os.Stat(filepath.Join(f.dir, doc.Filename))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = f.svc.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	chunks, err := f.svc.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	for _, r := range f.index.records {
		assert.Equal(t, keep.ID, r.DocumentID)
	}
	assert.Len(t, f.index.records, keep.ChunkCount)

	assert.ErrorIs(t, f.svc.Delete(ctx, doc.ID), ErrDocumentNotFound)
}

func TestService_RegisterExistingFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, filename := f.svc.NewStoredName("report.PDF")
	assert.Equal(t, id+".pdf", filename)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, filename), []byte(sampleText), 0o644))

	doc, err := f.svc.Register(ctx, id, filename, Upload{OriginalName: "report.PDF", MimeType: "application/pdf", Size: 42})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Equal(t, int64(42), doc.FileSize)

	require.NoError(t, f.svc.Process(ctx, doc))
	got, err := f.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, got.Status)
	assert.Positive(t, got.ChunkCount)
}
