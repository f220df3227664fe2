package llm

import (
	"context"
	"iter"

	"github.com/samber/mo"
)

// 生成時の既定値
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// ロール
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn は生成APIへ渡す会話の1ターン
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EmbeddingConfig は1回の埋め込み呼び出しで使う接続設定
type EmbeddingConfig struct {
	Model   string
	BaseURL string
	APIKey  string
}

// GenerateOptions は1回の生成呼び出しで使う接続設定とサンプリング設定
type GenerateOptions struct {
	Model       string
	BaseURL     string
	APIKey      string
	Temperature mo.Option[float64]
	MaxTokens   mo.Option[int]
}

// TemperatureOrDefault は温度を返します（未指定なら既定値）
func (o GenerateOptions) TemperatureOrDefault() float64 {
	return o.Temperature.OrElse(DefaultTemperature)
}

// MaxTokensOrDefault は最大トークン数を返します（未指定なら既定値）
func (o GenerateOptions) MaxTokensOrDefault() int {
	return o.MaxTokens.OrElse(DefaultMaxTokens)
}

// Embedder はテキストをベクトル表現に変換するインターフェース
type Embedder interface {
	// Embed はテキストからEmbeddingベクトルを生成する
	Embed(ctx context.Context, text string, cfg EmbeddingConfig) ([]float32, error)

	// EmbedBatch は複数テキストを1リクエストで変換する（出力順は入力順）
	EmbedBatch(ctx context.Context, texts []string, cfg EmbeddingConfig) ([][]float32, error)
}

// Generator は会話からトークン列をストリーミング生成するインターフェース。
// 返されるシーケンスは一度だけ反復でき、反復を中断すると上流リクエストも中断される。
type Generator interface {
	Generate(ctx context.Context, turns []Turn, opts GenerateOptions) iter.Seq2[string, error]
}
