package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

// Defaults はプロセス既定値から設定の既定値を組み立てる
func Defaults(chatModel, embeddingModel, baseURL, apiKey string) Settings {
	return Settings{
		Retrieval: Retrieval{
			TopK:      DefaultTopK,
			Threshold: DefaultThreshold,
		},
		Model: Model{
			ChatModel:        chatModel,
			EmbeddingModel:   embeddingModel,
			Temperature:      llm.DefaultTemperature,
			MaxTokens:        llm.DefaultMaxTokens,
			ChatBaseURL:      baseURL,
			ChatAPIKey:       apiKey,
			EmbeddingBaseURL: baseURL,
			EmbeddingAPIKey:  apiKey,
			BaseURL:          baseURL,
			APIKey:           apiKey,
		},
	}
}

// Service は保存済み設定と既定値を合成する
type Service struct {
	repo     Repository
	defaults Settings
	logger   *slog.Logger
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

// NewService は新しい Service を作成する
func NewService(repo Repository, defaults Settings, opts ...ServiceOption) *Service {
	s := &Service{
		repo:     repo,
		defaults: defaults,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Defaults は既定値を返す
func (s *Service) Defaults() Settings {
	return s.defaults
}

// Load は保存済みの値を既定値に重ねた設定を返す。
// 保存値が壊れている場合は警告を出して既定値を返す。
func (s *Service) Load(ctx context.Context) (Settings, error) {
	raw, err := s.repo.GetSetting(ctx, Key)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	stored, ok := raw.Get()
	if !ok || stored == "" {
		return s.defaults, nil
	}

	var patch Patch
	if err := json.Unmarshal([]byte(stored), &patch); err != nil {
		s.logger.WarnContext(ctx, "failed to parse stored settings, using defaults", "error", err)
		return s.defaults, nil
	}

	return s.defaults.Apply(patch), nil
}

// Save は p を既定値に重ねた設定を保存して返す（既存の保存値には重ねない）
func (s *Service) Save(ctx context.Context, p Patch) (Settings, error) {
	merged := s.defaults.Apply(p)

	raw, err := json.Marshal(merged)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := s.repo.SetSetting(ctx, Key, string(raw)); err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}

	s.logger.InfoContext(ctx, "settings saved",
		"chatModel", merged.Model.ChatModel,
		"embeddingModel", merged.Model.EmbeddingModel,
		"topK", merged.Retrieval.TopK,
		"threshold", merged.Retrieval.Threshold,
	)
	return merged, nil
}

// Resolve は呼び出しごとの上書きを保存済み設定に重ねる（上書き > 保存値 > 既定値）
func (s *Service) Resolve(ctx context.Context, overrides Patch) (Settings, error) {
	stored, err := s.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	return stored.Apply(overrides), nil
}
