package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-ada-002"

	// MaxEmbeddingBatchSize は1リクエストあたりの最大入力数
	MaxEmbeddingBatchSize = 100

	embeddingService = "Embedding"
)

// Embedder は OpenAI 互換の埋め込みAPIでテキストをベクトルに変換する。
// 接続先とモデルは呼び出しごとの EmbeddingConfig で決まる。
type Embedder struct {
	httpClient *http.Client
	batchSize  int
	logger     *slog.Logger
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*Embedder)

// WithEmbedderHTTPClient はHTTPクライアントを差し替える
func WithEmbedderHTTPClient(client *http.Client) EmbedderOption {
	return func(e *Embedder) {
		if client != nil {
			e.httpClient = client
		}
	}
}

// WithEmbeddingBatchSize は1リクエストの最大入力数を上書きする
func WithEmbeddingBatchSize(size int) EmbedderOption {
	return func(e *Embedder) {
		if size > 0 {
			e.batchSize = size
		}
	}
}

// WithEmbedderLogger はロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(e *Embedder) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(opts ...EmbedderOption) *Embedder {
	e := &Embedder{
		httpClient: http.DefaultClient,
		batchSize:  MaxEmbeddingBatchSize,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string, cfg llm.EmbeddingConfig) ([]float32, error) {
	embeddings, err := e.request(ctx, []string{text}, cfg)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch は複数テキストの Embedding を入力順に生成する。
// 入力がバッチ上限を超える場合は分割して順に送信する。
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, cfg llm.EmbeddingConfig) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))

		batch, err := e.request(ctx, texts[start:end], cfg)
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}

	return embeddings, nil
}

func (e *Embedder) request(ctx context.Context, texts []string, cfg llm.EmbeddingConfig) ([][]float32, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}

	var recorder errorBodyRecorder
	client := openai.NewClient(append(e.clientOptions(cfg), option.WithMiddleware(recorder.middleware))...)

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(model),
	}
	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}

	resp, err := client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, toServiceError(embeddingService, err, recorder.body)
	}

	// 応答順は入力順と一致するものとして扱う
	if len(resp.Data) != len(texts) {
		return nil, &llm.ServiceError{
			Service: embeddingService,
			Message: fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)),
			Err:     llm.ErrMalformedResponse,
		}
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		if len(data.Embedding) == 0 {
			return nil, &llm.ServiceError{
				Service: embeddingService,
				Message: fmt.Sprintf("no embedding data returned for input %d", i),
				Err:     llm.ErrMalformedResponse,
			}
		}
		vector := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vector[j] = float32(v)
		}
		embeddings[i] = vector
	}

	e.logger.DebugContext(ctx, "embeddings generated", "model", model, "count", len(embeddings))
	return embeddings, nil
}

func (e *Embedder) clientOptions(cfg llm.EmbeddingConfig) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithHTTPClient(e.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(ensureTrailingSlash(cfg.BaseURL)))
	}
	return opts
}

// errorBodyRecorder は非2xx応答の本文を控えてからSDKに渡す
type errorBodyRecorder struct {
	body string
}

func (r *errorBodyRecorder) middleware(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return resp, err
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	r.body = strings.TrimSpace(string(body))
	return resp, nil
}

// toServiceError はSDKのエラーを ServiceError に変換する。
// 上流の本文があればSDKの整形より優先してそのまま使う。
func toServiceError(service string, err error, body string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		message := body
		if message == "" {
			message = apiErr.Error()
		}
		return &llm.ServiceError{
			Service:    service,
			StatusCode: apiErr.StatusCode,
			Message:    message,
			Err:        err,
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return &llm.ServiceError{
		Service: service,
		Message: err.Error(),
		Err:     err,
	}
}

func ensureTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// インターフェース実装の確認
var _ llm.Embedder = (*Embedder)(nil)
