package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/extract"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/openai"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/postgres"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/sqlite"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/tokenizer"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/vectorfile"
	"github.com/FeishuCampRAG/rag-sys/pkg/config"
	"github.com/FeishuCampRAG/rag-sys/pkg/db"
)

// store はリレーショナルストアが満たすリポジトリの集合
type store interface {
	chat.Repository
	ingestion.Repository
	settings.Repository
}

// ServiceContainer はアプリケーションの依存関係を保持する
type ServiceContainer struct {
	Config    *config.Config
	Settings  *settings.Service
	Chat      *chat.Service
	Documents *ingestion.Service
	Index     vectorindex.Index

	logger  *slog.Logger
	closers []func() error
}

type containerOptions struct {
	embedder  llm.Embedder
	generator llm.Generator
	extractor ingestion.Extractor
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder llm.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator はカスタム Generator を注入する
func WithContainerGenerator(generator llm.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerExtractor はテキスト抽出器を差し替える
func WithContainerExtractor(extractor ingestion.Extractor) ContainerOption {
	return func(opts *containerOptions) {
		opts.extractor = extractor
	}
}

// NewContainer は設定に従ってストアとインデックスを開き、各サービスを組み立てる
func NewContainer(ctx context.Context, logger *slog.Logger, cfg *config.Config, opts ...ContainerOption) (_ *ServiceContainer, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	options := &containerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	c := &ServiceContainer{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	var database *db.DB
	if cfg.UsesPostgres() {
		database, err = db.New(ctx, db.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect database: %w", err)
		}
		c.closers = append(c.closers, func() error {
			database.Close()
			return nil
		})
		if err = postgres.EnsureSchema(ctx, database.Pool); err != nil {
			return nil, err
		}
	}

	repo, err := c.openStore(ctx, cfg, database)
	if err != nil {
		return nil, err
	}
	c.Index = newIndex(cfg, database, logger)

	if options.embedder == nil {
		options.embedder = openai.NewEmbedder(openai.WithEmbedderLogger(logger))
	}
	if options.generator == nil {
		options.generator = openai.NewGenerator(
			openai.WithResponsesModelPrefixes(cfg.OpenAI.ResponsesModelPrefixes),
			openai.WithGeneratorLogger(logger),
		)
	}
	if options.extractor == nil {
		options.extractor = extract.New(extract.WithLogger(logger))
	}

	c.Settings = settings.NewService(repo,
		settings.Defaults(cfg.OpenAI.ChatModel, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey),
		settings.WithLogger(logger),
	)

	chatOpts := []chat.ServiceOption{
		chat.WithLogger(logger),
		chat.WithHistoryLimit(cfg.RAG.HistoryLimit),
	}
	if counter, counterErr := tokenizer.NewCounter(); counterErr != nil {
		// トークン数はログ用なので無くても動く
		logger.Warn("token counter unavailable", "error", counterErr)
	} else {
		chatOpts = append(chatOpts, chat.WithTokenCounter(counter))
	}
	c.Chat = chat.NewService(repo, options.embedder, c.Index, options.generator, c.Settings, chatOpts...)

	c.Documents = ingestion.NewService(repo, options.extractor, options.embedder, c.Index, c.Settings,
		cfg.Storage.UploadDir,
		ingestion.WithLogger(logger),
		ingestion.WithChunking(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
	)

	logger.Info("container initialized",
		"storeDriver", cfg.Storage.Driver,
		"vectorStore", cfg.Storage.VectorStore,
		"uploadDir", cfg.Storage.UploadDir,
	)
	return c, nil
}

func (c *ServiceContainer) openStore(ctx context.Context, cfg *config.Config, database *db.DB) (store, error) {
	if cfg.Storage.Driver == config.DriverPostgres {
		return postgres.NewStore(database.Pool, postgres.WithLogger(c.logger)), nil
	}

	s, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, sqlite.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, s.Close)
	return s, nil
}

func newIndex(cfg *config.Config, database *db.DB, logger *slog.Logger) vectorindex.Index {
	if cfg.Storage.VectorStore == config.DriverPostgres {
		return postgres.NewVectorIndex(database.Pool,
			postgres.WithVectorLogger(logger),
			postgres.WithVectorModel(cfg.OpenAI.EmbeddingModel, 0),
		)
	}
	return vectorfile.New(cfg.Storage.VectorFile,
		vectorfile.WithLogger(logger),
		vectorfile.WithModel(cfg.OpenAI.EmbeddingModel, 0),
	)
}

// Close は内部リソースを開いた順と逆に解放する
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Logger はロガーを返す
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
