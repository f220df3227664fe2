package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "rag.db"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func strPtr(s string) *string { return &s }

func floatPtrOf(f float64) *float64 { return &f }

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rag.db")
	ctx := context.Background()

	store, err := Open(ctx, path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	require.NoError(t, store.SetSetting(ctx, settings.Key, `{"retrieval":{"topK":5}}`))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	defer reopened.Close()

	var versions int
	require.NoError(t, reopened.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	assert.Equal(t, 1, versions)

	value, err := reopened.GetSetting(ctx, settings.Key)
	require.NoError(t, err)
	assert.Equal(t, `{"retrieval":{"topK":5}}`, value.OrElse(""))
}

func TestStore_Documents(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	older := &ingestion.Document{
		ID: "doc-1", Filename: "doc-1.txt", OriginalName: "first.txt", FileSize: 10,
		MimeType: "text/plain", Status: ingestion.StatusProcessing,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := &ingestion.Document{
		ID: "doc-2", Filename: "doc-2.md", OriginalName: "第二.md", FileSize: 20,
		MimeType: "text/markdown", Status: ingestion.StatusProcessing,
		CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateDocument(ctx, older))
	require.NoError(t, store.CreateDocument(ctx, newer))

	missing, err := store.GetDocument(ctx, "nope")
	require.NoError(t, err)
	assert.True(t, missing.IsAbsent())

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-2", docs[0].ID)
	assert.Equal(t, "第二.md", docs[0].OriginalName)
	assert.Equal(t, "doc-1", docs[1].ID)

	require.NoError(t, store.UpdateDocumentStatus(ctx, "doc-1", ingestion.StatusError, strPtr("boom")))
	got, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	doc := got.MustGet()
	assert.Equal(t, ingestion.StatusError, doc.Status)
	require.NotNil(t, doc.ErrorMsg)
	assert.Equal(t, "boom", *doc.ErrorMsg)
	assert.True(t, older.CreatedAt.Equal(doc.CreatedAt))

	require.NoError(t, store.MarkDocumentReady(ctx, "doc-1", 3))
	got, err = store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	doc = got.MustGet()
	assert.Equal(t, ingestion.StatusReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Nil(t, doc.ErrorMsg)
}

func TestStore_Chunks(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateDocument(ctx, &ingestion.Document{
		ID: "doc", Filename: "doc.txt", OriginalName: "doc.txt",
		Status: ingestion.StatusProcessing, CreatedAt: time.Now(),
	}))

	require.NoError(t, store.InsertChunks(ctx, []*ingestion.StoredChunk{
		{ID: "c2", DocumentID: "doc", Content: "second", ChunkIndex: 1, CharCount: 6},
		{ID: "c1", DocumentID: "doc", Content: "first", ChunkIndex: 0, CharCount: 5},
	}))
	require.NoError(t, store.InsertChunks(ctx, nil))

	chunks, err := store.ListChunks(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "c1", chunks[0].ID)
	assert.Equal(t, "c2", chunks[1].ID)
	assert.Equal(t, 6, chunks[1].CharCount)

	require.NoError(t, store.DeleteChunks(ctx, "doc"))
	chunks, err = store.ListChunks(ctx, "doc")
	require.NoError(t, err)
	assert.NotNil(t, chunks)
	assert.Empty(t, chunks)

	// ドキュメント削除でチャンクも消える
	require.NoError(t, store.InsertChunks(ctx, []*ingestion.StoredChunk{
		{ID: "c3", DocumentID: "doc", Content: "third", ChunkIndex: 0, CharCount: 5},
	}))
	require.NoError(t, store.DeleteDocument(ctx, "doc"))
	chunks, err = store.ListChunks(ctx, "doc")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestStore_InsertChunksRequiresDocument(t *testing.T) {
	store, _ := openTestStore(t)

	err := store.InsertChunks(context.Background(), []*ingestion.StoredChunk{
		{ID: "c1", DocumentID: "ghost", Content: "x", ChunkIndex: 0, CharCount: 1},
	})
	assert.Error(t, err)
}

func TestStore_ConversationsAndMessages(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	base := clock.t
	require.NoError(t, store.CreateConversation(ctx, &chat.Conversation{
		ID: "a", Title: "对话", Summary: "新的对话", CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, store.CreateConversation(ctx, &chat.Conversation{
		ID: "b", Title: "对话", Summary: "新的对话", CreatedAt: base, UpdatedAt: base,
	}))

	msgTime := base.Add(time.Minute)
	require.NoError(t, store.InsertMessage(ctx, &chat.Message{
		ID: "m1", ConversationID: "a", Role: chat.RoleUser, Content: "question", CreatedAt: msgTime,
	}))
	require.NoError(t, store.InsertMessage(ctx, &chat.Message{
		ID: "m2", ConversationID: "a", Role: chat.RoleAssistant, Content: "answer", CreatedAt: msgTime,
		References: []chat.Reference{
			{ID: "chunk-9", Rank: 1, DocumentName: "doc.txt", Content: strPtr("snippet"), Similarity: floatPtrOf(0.91), ChunkID: strPtr("chunk-9")},
			{ID: "chunk-3", Rank: 2, DocumentName: "doc.txt"},
		},
	}))

	convs, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "a", convs[0].ID, "conversation with new messages comes first")
	assert.Equal(t, 2, convs[0].MessageCount)
	assert.Equal(t, 0, convs[1].MessageCount)

	messages, err := store.ListMessages(ctx, "a")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Empty(t, messages[0].References)
	assert.Equal(t, "m2", messages[1].ID)
	require.Len(t, messages[1].References, 2)

	first := messages[1].References[0]
	assert.Equal(t, "m2-ref-1", first.ID)
	assert.Equal(t, 1, first.Rank)
	require.NotNil(t, first.ChunkID)
	assert.Equal(t, "chunk-9", *first.ChunkID)
	require.NotNil(t, first.Similarity)
	assert.InDelta(t, 0.91, *first.Similarity, 1e-9)
	second := messages[1].References[1]
	assert.Nil(t, second.Content)
	assert.Nil(t, second.Similarity)

	recent, err := store.RecentMessages(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "m2", recent[0].ID)
	assert.Empty(t, recent[0].References)

	none, err := store.RecentMessages(ctx, "a", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.UpdateConversationSummary(ctx, "b", "new summary"))
	got, err := store.GetConversation(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "new summary", got.MustGet().Summary)

	require.NoError(t, store.DeleteMessages(ctx, "a"))
	messages, err = store.ListMessages(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, messages)
	stillThere, err := store.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, stillThere.IsPresent())

	var refCount int
	require.NoError(t, store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM message_references").Scan(&refCount))
	assert.Zero(t, refCount)

	require.NoError(t, store.DeleteConversation(ctx, "a"))
	gone, err := store.GetConversation(ctx, "a")
	require.NoError(t, err)
	assert.True(t, gone.IsAbsent())
}

func TestStore_TouchConversation(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()

	start := clock.t
	require.NoError(t, store.CreateConversation(ctx, &chat.Conversation{
		ID: "a", Title: "t", Summary: "s", CreatedAt: start, UpdatedAt: start,
	}))
	require.NoError(t, store.TouchConversation(ctx, "a"))

	got, err := store.GetConversation(ctx, "a")
	require.NoError(t, err)
	conv := got.MustGet()
	assert.True(t, conv.UpdatedAt.After(conv.CreatedAt))
}

func TestStore_Settings(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	value, err := store.GetSetting(ctx, settings.Key)
	require.NoError(t, err)
	assert.True(t, value.IsAbsent())

	require.NoError(t, store.SetSetting(ctx, settings.Key, "v1"))
	require.NoError(t, store.SetSetting(ctx, settings.Key, "v2"))

	value, err = store.GetSetting(ctx, settings.Key)
	require.NoError(t, err)
	assert.Equal(t, "v2", value.MustGet())
}

func TestParseTime(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 8, time.UTC)
	got, err := parseTime(formatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))

	got, err = parseTime("2024-03-04T05:06:07+09:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 3, 20, 6, 7, 0, time.UTC), got)

	_, err = parseTime("yesterday")
	assert.Error(t, err)
}
