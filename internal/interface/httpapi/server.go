package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxUploadSize   = 50 << 20
)

// ChatService はチャットと会話管理のユースケース
type ChatService interface {
	Chat(ctx context.Context, req chat.Request, sink chat.EventSink) (*chat.Result, error)
	CreateConversation(ctx context.Context, in chat.NewConversation) (*chat.Conversation, error)
	ListConversations(ctx context.Context) ([]*chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	History(ctx context.Context, conversationID string) ([]*chat.Message, error)
	ClearHistory(ctx context.Context, conversationID string) error
}

// DocumentService はドキュメント取り込みと管理のユースケース
type DocumentService interface {
	Store(ctx context.Context, r io.Reader, up ingestion.Upload) (*ingestion.Document, error)
	Process(ctx context.Context, doc *ingestion.Document) error
	List(ctx context.Context) ([]*ingestion.Document, error)
	Get(ctx context.Context, id string) (*ingestion.Document, error)
	Chunks(ctx context.Context, id string) ([]*ingestion.StoredChunk, error)
	Content(ctx context.Context, id string) (*ingestion.DocumentContent, error)
	Delete(ctx context.Context, id string) error
}

// SettingsService は設定の読み書き
type SettingsService interface {
	Load(ctx context.Context) (settings.Settings, error)
	Save(ctx context.Context, p settings.Patch) (settings.Settings, error)
}

// Services はハンドラが依存するユースケースの集合
type Services struct {
	Chat      ChatService
	Documents DocumentService
	Settings  SettingsService
}

// Server は /api 以下のHTTP APIを提供する
type Server struct {
	addr            string
	services        Services
	logger          *slog.Logger
	now             func() time.Time
	maxUploadSize   int64
	shutdownTimeout time.Duration

	handler    http.Handler
	background sync.WaitGroup
}

// Option は Server のオプション
type Option func(*Server)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxUploadSize はアップロードの最大バイト数を設定する
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadSize = n
		}
	}
}

// WithShutdownTimeout は終了時に処理中リクエストを待つ時間を設定する
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithClock は時刻取得関数を差し替える（テスト用）
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New は Server を生成する
func New(addr string, services Services, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		services:        services,
		logger:          slog.Default(),
		now:             time.Now,
		maxUploadSize:   defaultMaxUploadSize,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = withLogging(s.logger, withCORS(s.routes()))
	return s
}

// Handler はミドルウェア込みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /api/chat/history", s.handleClearHistory)
	mux.HandleFunc("POST /api/chat/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/chat/conversations", s.handleListConversations)
	mux.HandleFunc("DELETE /api/chat/conversations/{id}", s.handleDeleteConversation)

	mux.HandleFunc("POST /api/documents/upload", s.handleUpload)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("GET /api/documents/{id}/chunks", s.handleDocumentChunks)
	mux.HandleFunc("GET /api/documents/{id}/content", s.handleDocumentContent)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleSaveSettings)

	return mux
}

// Run は ctx がキャンセルされるまでサーバを動かし、終了時は処理中のリクエストと
// バックグラウンドの取り込みを待つ
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve は ln で待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// シグナルで処理中のストリームを切らず、Shutdown のタイムアウトで打ち切る
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	err := srv.Shutdown(shutdownCtx)
	s.background.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Wait はバックグラウンド処理の完了を待つ
func (s *Server) Wait() {
	s.background.Wait()
}

func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}
