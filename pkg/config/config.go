package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ストアドライバ
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	VectorFile     = "file"
)

// DefaultResponsesModelPrefixes は responses API のみ対応するモデル系列の既定プレフィックス
var DefaultResponsesModelPrefixes = []string{
	"o1-pro",
	"o3-pro",
	"gpt-5-pro",
	"gpt-5-codex",
	"gpt-5.1-codex",
	"codex-mini",
	"computer-use-preview",
}

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// HTTPサーバ設定
	Server ServerConfig

	// データ保存先
	Storage StorageConfig

	// Database設定（STORE_DRIVER=postgres または VECTOR_STORE=postgres のとき使用）
	Database DatabaseConfig

	// OpenAI互換API設定
	OpenAI OpenAIConfig

	// チャンク分割・履歴設定
	RAG RAGConfig

	// ログ設定
	Log LogConfig
}

// ServerConfig はHTTPサーバの設定
type ServerConfig struct {
	Addr string
}

// StorageConfig はリレーショナルストアとベクトルインデックスの選択
type StorageConfig struct {
	DataDir     string
	UploadDir   string
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	VectorStore string // "file" or "postgres"
	VectorFile  string
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig は埋め込み・生成APIのプロセス既定値
type OpenAIConfig struct {
	BaseURL                string
	APIKey                 string
	EmbeddingModel         string
	ChatModel              string
	ResponsesModelPrefixes []string
}

// RAGConfig はチャンク分割と会話履歴の設定
type RAGConfig struct {
	ChunkSize    int
	ChunkOverlap int
	HistoryLimit int
}

// LogConfig はロガー設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	port := getEnvAsInt("PORT", 3001)
	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", fmt.Sprintf(":%d", port)),
		},
		Storage: StorageConfig{
			DataDir:     dataDir,
			UploadDir:   getEnv("UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
			SQLitePath:  getEnv("SQLITE_PATH", filepath.Join(dataDir, "rag.db")),
			VectorStore: strings.ToLower(getEnv("VECTOR_STORE", VectorFile)),
			VectorFile:  getEnv("VECTOR_FILE", filepath.Join(dataDir, "vectors.json")),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "rag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "rag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			BaseURL:                getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:                 getEnv("OPENAI_API_KEY", ""),
			EmbeddingModel:         getEnv("EMBEDDING_MODEL", "text-embedding-ada-002"),
			ChatModel:              getEnv("CHAT_MODEL", "gpt-5.1"),
			ResponsesModelPrefixes: getEnvAsList("RESPONSES_MODEL_PREFIXES", DefaultResponsesModelPrefixes),
		},
		RAG: RAGConfig{
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 500),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 50),
			HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER: %q", c.Storage.Driver))
	}

	switch c.Storage.VectorStore {
	case VectorFile, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown VECTOR_STORE: %q", c.Storage.VectorStore))
	}

	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive: %d", c.RAG.ChunkSize))
	}
	if c.RAG.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must not be negative: %d", c.RAG.ChunkOverlap))
	}
	if c.RAG.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must not be negative: %d", c.RAG.HistoryLimit))
	}

	return errors.Join(errs...)
}

// UsesPostgres はPostgreSQL接続が必要かどうかを返します
func (c *Config) UsesPostgres() bool {
	return c.Storage.Driver == DriverPostgres || c.Storage.VectorStore == DriverPostgres
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList はカンマ区切りの環境変数をリストとして取得します
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}

	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
