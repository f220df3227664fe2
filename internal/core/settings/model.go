package settings

import (
	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

// 検索設定の既定値
const (
	DefaultTopK      = 3
	DefaultThreshold = 0.5
)

// Retrieval は検索時の設定
type Retrieval struct {
	TopK      int     `json:"topK"`
	Threshold float64 `json:"threshold"`
}

// Model は埋め込み・生成モデルと接続先の設定
type Model struct {
	ChatModel        string  `json:"chatModel"`
	EmbeddingModel   string  `json:"embeddingModel"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"maxTokens"`
	ChatBaseURL      string  `json:"chatBaseUrl"`
	ChatAPIKey       string  `json:"chatApiKey"`
	EmbeddingBaseURL string  `json:"embeddingBaseUrl"`
	EmbeddingAPIKey  string  `json:"embeddingApiKey"`
	BaseURL          string  `json:"baseUrl"`
	APIKey           string  `json:"apiKey"`
}

// Settings はアプリケーション設定全体
type Settings struct {
	Retrieval Retrieval `json:"retrieval"`
	Model     Model     `json:"model"`
}

// EmbeddingConfig は埋め込み呼び出しの接続設定を返す（個別設定がなければ共通の baseUrl/apiKey）
func (m Model) EmbeddingConfig() llm.EmbeddingConfig {
	return llm.EmbeddingConfig{
		Model:   m.EmbeddingModel,
		BaseURL: firstNonEmpty(m.EmbeddingBaseURL, m.BaseURL),
		APIKey:  firstNonEmpty(m.EmbeddingAPIKey, m.APIKey),
	}
}

// GenerateOptions は生成呼び出しの設定を返す
func (m Model) GenerateOptions() llm.GenerateOptions {
	opts := llm.GenerateOptions{
		Model:       m.ChatModel,
		BaseURL:     firstNonEmpty(m.ChatBaseURL, m.BaseURL),
		APIKey:      firstNonEmpty(m.ChatAPIKey, m.APIKey),
		Temperature: mo.Some(m.Temperature),
	}
	if m.MaxTokens > 0 {
		opts.MaxTokens = mo.Some(m.MaxTokens)
	}
	return opts
}

// RetrievalPatch は検索設定の部分更新（nilは未指定）
type RetrievalPatch struct {
	TopK      *int     `json:"topK,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// ModelPatch はモデル設定の部分更新（nilおよび空文字は未指定）
type ModelPatch struct {
	ChatModel        *string  `json:"chatModel,omitempty"`
	EmbeddingModel   *string  `json:"embeddingModel,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"maxTokens,omitempty"`
	ChatBaseURL      *string  `json:"chatBaseUrl,omitempty"`
	ChatAPIKey       *string  `json:"chatApiKey,omitempty"`
	EmbeddingBaseURL *string  `json:"embeddingBaseUrl,omitempty"`
	EmbeddingAPIKey  *string  `json:"embeddingApiKey,omitempty"`
	BaseURL          *string  `json:"baseUrl,omitempty"`
	APIKey           *string  `json:"apiKey,omitempty"`
}

// Patch は設定の部分更新
type Patch struct {
	Retrieval *RetrievalPatch `json:"retrieval,omitempty"`
	Model     *ModelPatch     `json:"model,omitempty"`
}

// Apply は p の指定値で上書きした設定を返す
func (s Settings) Apply(p Patch) Settings {
	out := s
	if r := p.Retrieval; r != nil {
		if r.TopK != nil {
			out.Retrieval.TopK = *r.TopK
		}
		if r.Threshold != nil {
			out.Retrieval.Threshold = *r.Threshold
		}
	}
	if m := p.Model; m != nil {
		setString(&out.Model.ChatModel, m.ChatModel)
		setString(&out.Model.EmbeddingModel, m.EmbeddingModel)
		setString(&out.Model.ChatBaseURL, m.ChatBaseURL)
		setString(&out.Model.ChatAPIKey, m.ChatAPIKey)
		setString(&out.Model.EmbeddingBaseURL, m.EmbeddingBaseURL)
		setString(&out.Model.EmbeddingAPIKey, m.EmbeddingAPIKey)
		setString(&out.Model.BaseURL, m.BaseURL)
		setString(&out.Model.APIKey, m.APIKey)
		if m.Temperature != nil {
			out.Model.Temperature = *m.Temperature
		}
		if m.MaxTokens != nil {
			out.Model.MaxTokens = *m.MaxTokens
		}
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
