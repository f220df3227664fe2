package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

// DefaultHistoryLimit は生成時に参照する直近メッセージ数
const DefaultHistoryLimit = 10

// SettingsResolver は呼び出しごとの設定を解決する
type SettingsResolver interface {
	Resolve(ctx context.Context, overrides settings.Patch) (settings.Settings, error)
}

// TokenCounter はトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// Service は RAG パイプライン（埋め込み→検索→プロンプト→生成→保存）を実行する
type Service struct {
	repo         Repository
	embedder     llm.Embedder
	index        vectorindex.Index
	generator    llm.Generator
	settings     SettingsResolver
	tokenCounter TokenCounter
	historyLimit int
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

// WithTokenCounter はプロンプトと回答のトークン数をログに出すためのカウンタを設定する
func WithTokenCounter(counter TokenCounter) ServiceOption {
	return func(s *Service) {
		s.tokenCounter = counter
	}
}

// WithHistoryLimit は参照する直近メッセージ数を設定する
func WithHistoryLimit(limit int) ServiceOption {
	return func(s *Service) {
		if limit >= 0 {
			s.historyLimit = limit
		}
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

// NewService は新しい Service を作成する
func NewService(
	repo Repository,
	embedder llm.Embedder,
	index vectorindex.Index,
	generator llm.Generator,
	resolver SettingsResolver,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		repo:         repo,
		embedder:     embedder,
		index:        index,
		generator:    generator,
		settings:     resolver,
		historyLimit: DefaultHistoryLimit,
		logger:       slog.Default(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat はユーザーメッセージに対してパイプラインを実行し、進捗を sink に送る。
// メッセージが空なら何も送らずに ErrEmptyMessage を返す。それ以外の失敗は error イベントを
// 送ってから *StageError を返す。ctx がキャンセルされた場合はイベントも保存も行わない。
func (s *Service) Chat(ctx context.Context, req Request, sink EventSink) (*Result, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	message := req.Message

	cfg, err := s.settings.Resolve(ctx, req.Overrides)
	if err != nil {
		return nil, s.fail(ctx, sink, "", fmt.Errorf("failed to resolve settings: %w", err))
	}

	conv, err := s.ensureConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, s.fail(ctx, sink, "", err)
	}

	userMsg := &Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		Role:           RoleUser,
		Content:        message,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, s.fail(ctx, sink, "", fmt.Errorf("failed to save user message: %w", err))
	}
	if needsSummary(conv.Summary) {
		if err := s.repo.UpdateConversationSummary(ctx, conv.ID, Summarize(message)); err != nil {
			return nil, s.fail(ctx, sink, "", fmt.Errorf("failed to update conversation summary: %w", err))
		}
	}

	logger := s.logger.With("conversationID", conv.ID)

	// 1. embedding
	if err := sink.Send(ctx, stepEvent(StepEmbedding, StatusProcessing)); err != nil {
		return nil, err
	}
	queryVector, err := s.embedder.Embed(ctx, message, cfg.Model.EmbeddingConfig())
	if err != nil {
		return nil, s.fail(ctx, sink, StepEmbedding, err)
	}
	logger.InfoContext(ctx, "query embedded", "dimension", len(queryVector))
	if err := sink.Send(ctx, Event{Name: EventStep, Data: EmbeddingDoneEvent{
		StepEvent: StepEvent{Step: StepEmbedding, Status: StatusDone},
		Dimension: len(queryVector),
	}}); err != nil {
		return nil, err
	}

	// 2. retrieval
	if err := sink.Send(ctx, stepEvent(StepRetrieval, StatusProcessing)); err != nil {
		return nil, err
	}
	results, err := s.index.Search(ctx, queryVector, cfg.Retrieval.TopK, cfg.Retrieval.Threshold)
	if err != nil {
		return nil, s.fail(ctx, sink, StepRetrieval, err)
	}
	references := BuildReferences(results)
	logger.InfoContext(ctx, "chunks retrieved",
		"count", len(results),
		"topK", cfg.Retrieval.TopK,
		"threshold", cfg.Retrieval.Threshold,
	)
	if err := sink.Send(ctx, Event{Name: EventStep, Data: RetrievalDoneEvent{
		StepEvent: StepEvent{Step: StepRetrieval, Status: StatusDone},
		Chunks:    retrievedChunks(results),
	}}); err != nil {
		return nil, err
	}

	// 3. prompt
	if err := sink.Send(ctx, stepEvent(StepPrompt, StatusProcessing)); err != nil {
		return nil, err
	}
	prompt := BuildPrompt(message, results)
	if s.tokenCounter != nil {
		logger.DebugContext(ctx, "prompt built", "promptTokens", s.tokenCounter.CountTokens(prompt))
	}
	if err := sink.Send(ctx, Event{Name: EventStep, Data: PromptDoneEvent{
		StepEvent: StepEvent{Step: StepPrompt, Status: StatusDone},
		Content:   prompt,
	}}); err != nil {
		return nil, err
	}

	// 4. generating
	if err := sink.Send(ctx, stepEvent(StepGenerating, StatusProcessing)); err != nil {
		return nil, err
	}
	turns, err := s.buildTurns(ctx, conv.ID, userMsg.ID, prompt, message)
	if err != nil {
		return nil, s.fail(ctx, sink, StepGenerating, err)
	}

	var full strings.Builder
	for token, err := range s.generator.Generate(ctx, turns, cfg.Model.GenerateOptions()) {
		if err != nil {
			// 途中までの出力は保存しない
			return nil, s.fail(ctx, sink, StepGenerating, err)
		}
		full.WriteString(token)
		if err := sink.Send(ctx, Event{Name: EventToken, Data: TokenEvent{Token: token}}); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. done
	fullResponse := full.String()
	assistantMsg := &Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		Role:           RoleAssistant,
		Content:        fullResponse,
		CreatedAt:      s.now().UTC(),
		References:     references,
	}
	if err := s.repo.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, s.fail(ctx, sink, "", fmt.Errorf("failed to save assistant message: %w", err))
	}
	if err := s.repo.TouchConversation(ctx, conv.ID); err != nil {
		return nil, s.fail(ctx, sink, "", fmt.Errorf("failed to update conversation: %w", err))
	}

	if s.tokenCounter != nil {
		logger.DebugContext(ctx, "response generated", "responseTokens", s.tokenCounter.CountTokens(fullResponse))
	}
	logger.InfoContext(ctx, "chat completed", "responseLength", len(fullResponse), "references", len(references))

	if err := sink.Send(ctx, Event{Name: EventDone, Data: DoneEvent{
		FullResponse:   fullResponse,
		ConversationID: conv.ID,
	}}); err != nil {
		return nil, err
	}

	return &Result{
		ConversationID:   conv.ID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}, nil
}

// fail は error イベントを送り StageError を返す。ctx がキャンセル済みなら送らない。
func (s *Service) fail(ctx context.Context, sink EventSink, step Step, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logger.InfoContext(ctx, "chat canceled", "step", string(step))
		return ctxErr
	}

	s.logger.ErrorContext(ctx, "chat failed", "step", string(step), "error", err)

	if sendErr := sink.Send(ctx, Event{Name: EventError, Data: ErrorEvent{
		Message: err.Error(),
		Step:    step,
	}}); sendErr != nil {
		s.logger.WarnContext(ctx, "failed to send error event", "error", sendErr)
	}

	return &StageError{Step: step, Err: err}
}

// ensureConversation は既存の会話を返すか、指定IDまたは新しいIDで作成する
func (s *Service) ensureConversation(ctx context.Context, id string) (*Conversation, error) {
	if id != "" {
		found, err := s.repo.GetConversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if conv, ok := found.Get(); ok {
			return conv, nil
		}
	}

	return s.CreateConversation(ctx, NewConversation{ID: id})
}

// buildTurns は [system(prompt)] + 直近履歴 + [user(message)] を組み立てる
func (s *Service) buildTurns(ctx context.Context, conversationID, currentID, prompt, message string) ([]llm.Turn, error) {
	turns := []llm.Turn{{Role: llm.RoleSystem, Content: prompt}}

	if s.historyLimit > 0 {
		history, err := s.repo.RecentMessages(ctx, conversationID, s.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load history: %w", err)
		}
		for _, m := range history {
			if m.ID == currentID {
				continue
			}
			if m.Role != RoleUser && m.Role != RoleAssistant {
				continue
			}
			turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
		}
	}

	return append(turns, llm.Turn{Role: llm.RoleUser, Content: message}), nil
}

// CreateConversation は会話を作成する。同じIDの会話があればそれを返す。
func (s *Service) CreateConversation(ctx context.Context, in NewConversation) (*Conversation, error) {
	if in.ID != "" {
		found, err := s.repo.GetConversation(ctx, in.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation: %w", err)
		}
		if conv, ok := found.Get(); ok {
			return conv, nil
		}
	}

	now := s.now().UTC()
	conv := &Conversation{
		ID:        in.ID,
		Title:     strings.TrimSpace(in.Title),
		Summary:   strings.TrimSpace(in.Summary),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.ID == "" {
		conv.ID = s.newID()
	}
	if conv.Title == "" {
		conv.Title = DefaultTitle
	}
	if conv.Summary == "" {
		conv.Summary = DefaultSummary
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.InfoContext(ctx, "conversation created", "conversationID", conv.ID)
	return conv, nil
}

// ListConversations は会話一覧を返す
func (s *Service) ListConversations(ctx context.Context) ([]*Conversation, error) {
	convs, err := s.repo.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

// DeleteConversation は会話を削除する
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	found, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if found.IsAbsent() {
		return ErrConversationNotFound
	}

	if err := s.repo.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	s.logger.InfoContext(ctx, "conversation deleted", "conversationID", id)
	return nil
}

// History は会話のメッセージを参照情報付きで返す（未知の会話は空）
func (s *Service) History(ctx context.Context, conversationID string) ([]*Message, error) {
	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}

// ClearHistory は会話のメッセージを削除する（会話は残す）
func (s *Service) ClearHistory(ctx context.Context, conversationID string) error {
	if err := s.repo.DeleteMessages(ctx, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	s.logger.InfoContext(ctx, "conversation history cleared", "conversationID", conversationID)
	return nil
}

// IsValidation は err が入力検証エラーかどうかを返す
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyMessage)
}
