package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chunk"
	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

var (
	// ErrDocumentNotFound はドキュメントが存在しない
	ErrDocumentNotFound = errors.New("document not found")
	// ErrDocumentFileNotFound はドキュメントの保存ファイルが存在しない
	ErrDocumentFileNotFound = errors.New("document file not found")
)

// Extractor はファイルから本文テキストを取り出す
type Extractor interface {
	ExtractText(ctx context.Context, path, mimeType string) (string, error)
}

// SettingsResolver は埋め込み設定を解決する
type SettingsResolver interface {
	Resolve(ctx context.Context, overrides settings.Patch) (settings.Settings, error)
}

// Service はドキュメントの取り込み（抽出→分割→埋め込み→保存）と管理を行う
type Service struct {
	repo         Repository
	extractor    Extractor
	embedder     llm.Embedder
	index        vectorindex.Index
	settings     SettingsResolver
	uploadDir    string
	chunkSize    int
	chunkOverlap int
	pipeline     PipelineConfig
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
}

// ServiceOption は Service のオプション
type ServiceOption func(*Service)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChunking はチャンクサイズとオーバーラップを設定する
func WithChunking(size, overlap int) ServiceOption {
	return func(s *Service) {
		if size > 0 {
			s.chunkSize = size
		}
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// WithPipelineConfig は埋め込みワーカーの設定を差し替える
func WithPipelineConfig(cfg PipelineConfig) ServiceOption {
	return func(s *Service) {
		s.pipeline = cfg.normalized()
	}
}

// WithClock は時刻取得関数を差し替える（テスト用）
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService は Service を生成する
func NewService(
	repo Repository,
	extractor Extractor,
	embedder llm.Embedder,
	index vectorindex.Index,
	resolver SettingsResolver,
	uploadDir string,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		repo:         repo,
		extractor:    extractor,
		embedder:     embedder,
		index:        index,
		settings:     resolver,
		uploadDir:    uploadDir,
		chunkSize:    chunk.DefaultMaxSize,
		chunkOverlap: chunk.DefaultOverlap,
		pipeline:     DefaultPipelineConfig(),
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadDir はアップロードファイルの保存先を返す
func (s *Service) UploadDir() string {
	return s.uploadDir
}

// NewStoredName はドキュメントIDと保存ファイル名（<id><拡張子>）を払い出す
func (s *Service) NewStoredName(originalName string) (id, filename string) {
	id = s.newID()
	return id, id + strings.ToLower(filepath.Ext(originalName))
}

// Store は r の内容をアップロードディレクトリに保存し、processing 状態のドキュメントを登録する
func (s *Service) Store(ctx context.Context, r io.Reader, up Upload) (*Document, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	id, filename := s.NewStoredName(up.OriginalName)
	path := filepath.Join(s.uploadDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write upload file: %w", err)
	}

	up.Size = size
	doc, err := s.Register(ctx, id, filename, up)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return doc, nil
}

// Register は保存済みファイルに対応するドキュメントを processing 状態で登録する
func (s *Service) Register(ctx context.Context, id, filename string, up Upload) (*Document, error) {
	doc := &Document{
		ID:           id,
		Filename:     filename,
		OriginalName: up.OriginalName,
		FileSize:     up.Size,
		MimeType:     up.MimeType,
		Status:       StatusProcessing,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("document registered",
		"documentID", doc.ID,
		"originalName", doc.OriginalName,
		"mimeType", doc.MimeType,
		"fileSize", doc.FileSize,
	)
	return doc, nil
}

// Ingest は Store と Process を同期的に実行する
func (s *Service) Ingest(ctx context.Context, r io.Reader, up Upload) (*Document, error) {
	doc, err := s.Store(ctx, r, up)
	if err != nil {
		return nil, err
	}
	if err := s.Process(ctx, doc); err != nil {
		return doc, err
	}
	return s.Get(ctx, doc.ID)
}

// Process は登録済みドキュメントを抽出・分割・埋め込みしてインデックスに追加する。
// 失敗した場合はドキュメントを error 状態にし、チャンクとベクトルを残さない。
func (s *Service) Process(ctx context.Context, doc *Document) error {
	start := s.now()
	count, err := s.process(ctx, doc)
	if err != nil {
		msg := err.Error()
		if statusErr := s.repo.UpdateDocumentStatus(ctx, doc.ID, StatusError, &msg); statusErr != nil {
			s.logger.Error("failed to mark document as error",
				"documentID", doc.ID,
				"error", statusErr,
			)
		}
		s.logger.Error("document processing failed",
			"documentID", doc.ID,
			"error", err,
		)
		return err
	}

	s.logger.Info("document processed",
		"documentID", doc.ID,
		"chunkCount", count,
		"duration", s.now().Sub(start),
	)
	return nil
}

func (s *Service) process(ctx context.Context, doc *Document) (int, error) {
	path := filepath.Join(s.uploadDir, doc.Filename)
	text, err := s.extractor.ExtractText(ctx, path, doc.MimeType)
	if err != nil {
		return 0, fmt.Errorf("failed to extract text: %w", err)
	}
	// 空のテキストも内容が空のチャンク1件として扱う
	pieces := chunk.Split(text, s.chunkSize, s.chunkOverlap)
	s.logger.Debug("document split",
		"documentID", doc.ID,
		"chunkCount", len(pieces),
	)

	resolved, err := s.settings.Resolve(ctx, settings.Patch{})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve settings: %w", err)
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	embeddings, err := embedAll(ctx, s.embedder, resolved.Model.EmbeddingConfig(), texts, s.pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks: %w", err)
	}

	stored := make([]*StoredChunk, len(pieces))
	records := make([]vectorindex.Record, len(pieces))
	for i, p := range pieces {
		id := s.newID()
		stored[i] = &StoredChunk{
			ID:         id,
			DocumentID: doc.ID,
			Content:    p.Content,
			ChunkIndex: p.Ordinal,
			CharCount:  p.CharCount,
		}
		records[i] = vectorindex.Record{
			ID:           id,
			DocumentID:   doc.ID,
			DocumentName: doc.OriginalName,
			Content:      p.Content,
			ChunkOrdinal: p.Ordinal,
			Embedding:    embeddings[i],
		}
	}

	if err := s.repo.InsertChunks(ctx, stored); err != nil {
		return 0, fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := s.index.Add(ctx, records); err != nil {
		// ベクトルが無いチャンクを残さない
		if delErr := s.repo.DeleteChunks(context.WithoutCancel(ctx), doc.ID); delErr != nil {
			s.logger.Error("failed to roll back chunks",
				"documentID", doc.ID,
				"error", delErr,
			)
		}
		return 0, fmt.Errorf("failed to add vectors: %w", err)
	}

	if err := s.repo.MarkDocumentReady(ctx, doc.ID, len(stored)); err != nil {
		return 0, fmt.Errorf("failed to mark document ready: %w", err)
	}
	return len(stored), nil
}

// List はドキュメント一覧を返す
func (s *Service) List(ctx context.Context) ([]*Document, error) {
	docs, err := s.repo.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	if docs == nil {
		docs = []*Document{}
	}
	return docs, nil
}

// Get はドキュメントを取得する
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	found, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	doc, ok := found.Get()
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// Chunks はドキュメントのチャンクを順序通りに返す
func (s *Service) Chunks(ctx context.Context, id string) ([]*StoredChunk, error) {
	chunks, err := s.repo.ListChunks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	if chunks == nil {
		chunks = []*StoredChunk{}
	}
	return chunks, nil
}

// Content は保存ファイルから本文を抽出し直して返す
func (s *Service) Content(ctx context.Context, id string) (*DocumentContent, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.uploadDir, doc.Filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrDocumentFileNotFound
		}
		return nil, fmt.Errorf("failed to stat document file: %w", err)
	}

	text, err := s.extractor.ExtractText(ctx, path, doc.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to extract text: %w", err)
	}

	return &DocumentContent{
		Content:      text,
		MimeType:     doc.MimeType,
		Filename:     doc.Filename,
		OriginalName: doc.OriginalName,
	}, nil
}

// Delete はファイル・ベクトル・チャンク・ドキュメントを削除する
func (s *Service) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	path := filepath.Join(s.uploadDir, doc.Filename)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove document file: %w", err)
	}
	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.repo.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	s.logger.Info("document deleted", "documentID", id)
	return nil
}
