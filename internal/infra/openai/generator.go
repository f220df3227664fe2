package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/FeishuCampRAG/rag-sys/internal/core/llm"
)

const (
	generationService = "LLM"

	// maxErrorBodySize はエラー応答本文の読み取り上限
	maxErrorBodySize = 1 << 20

	responsesRequiredMarker = "v1/responses"
)

// protocol は生成APIのワイヤプロトコル
type protocol int

const (
	protocolChatCompletions protocol = iota
	protocolResponses
)

func (p protocol) String() string {
	if p == protocolResponses {
		return "responses"
	}
	return "chat_completions"
}

// Generator は OpenAI 互換APIからトークンをストリーミングで受け取る。
// モデル名が responses 専用系列に一致すれば responses API を使い、それ以外は
// chat-completions を試して responses 必須エラーのときだけ一度 responses で再送する。
type Generator struct {
	httpClient        *http.Client
	responsesPrefixes []string
	logger            *slog.Logger
}

// GeneratorOption は Generator のオプション設定
type GeneratorOption func(*Generator)

// WithGeneratorHTTPClient はHTTPクライアントを差し替える
func WithGeneratorHTTPClient(client *http.Client) GeneratorOption {
	return func(g *Generator) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// WithResponsesModelPrefixes は responses 専用とみなすモデル名プレフィックスを設定する
func WithResponsesModelPrefixes(prefixes []string) GeneratorOption {
	return func(g *Generator) {
		g.responsesPrefixes = append([]string(nil), prefixes...)
	}
}

// WithGeneratorLogger はロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator は新しい Generator を作成する
func NewGenerator(opts ...GeneratorOption) *Generator {
	g := &Generator{
		// ストリーム全体にタイムアウトを掛けないためクライアントのTimeoutは0のまま
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate は turns を送信し、受信したトークンを順に返すシーケンスを返す。
// シーケンスは一度だけ反復でき、二度目は llm.ErrStreamConsumed を返す。
// 反復を途中で止めると上流リクエストはキャンセルされる。
func (g *Generator) Generate(ctx context.Context, turns []llm.Turn, opts llm.GenerateOptions) iter.Seq2[string, error] {
	var consumed atomic.Bool

	return func(yield func(string, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield("", llm.ErrStreamConsumed)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		proto := g.selectProtocol(opts.Model)
		body, err := g.open(ctx, proto, turns, opts)
		if err != nil && proto == protocolChatCompletions && llm.IsResponsesRequired(err) {
			g.logger.InfoContext(ctx, "falling back to responses API", "model", opts.Model)
			proto = protocolResponses
			body, err = g.open(ctx, proto, turns, opts)
		}
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		var streamErr error
		switch proto {
		case protocolResponses:
			streamErr = streamResponses(body, yield)
		default:
			streamErr = streamChatCompletions(body, yield)
		}

		if streamErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				streamErr = ctxErr
			}
			yield("", streamErr)
		}
	}
}

// selectProtocol はモデル名から最初に使うプロトコルを決める
func (g *Generator) selectProtocol(model string) protocol {
	m := strings.ToLower(model)
	for _, prefix := range g.responsesPrefixes {
		if prefix != "" && strings.HasPrefix(m, strings.ToLower(prefix)) {
			return protocolResponses
		}
	}
	return protocolChatCompletions
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type responsesRequest struct {
	Model           string        `json:"model"`
	Input           []chatMessage `json:"input"`
	Stream          bool          `json:"stream"`
	Temperature     float64       `json:"temperature"`
	MaxOutputTokens int           `json:"max_output_tokens"`
}

// open はリクエストを送り、2xxなら本文を返す。それ以外は ServiceError を返す。
func (g *Generator) open(ctx context.Context, proto protocol, turns []llm.Turn, opts llm.GenerateOptions) (io.ReadCloser, error) {
	messages := make([]chatMessage, len(turns))
	for i, t := range turns {
		messages[i] = chatMessage{Role: t.Role, Content: t.Content}
	}

	var (
		endpoint string
		payload  any
	)
	switch proto {
	case protocolResponses:
		endpoint = "/responses"
		payload = responsesRequest{
			Model:           opts.Model,
			Input:           messages,
			Stream:          true,
			Temperature:     opts.TemperatureOrDefault(),
			MaxOutputTokens: opts.MaxTokensOrDefault(),
		}
	default:
		endpoint = "/chat/completions"
		payload = chatCompletionRequest{
			Model:       opts.Model,
			Messages:    messages,
			Stream:      true,
			Temperature: opts.TemperatureOrDefault(),
			MaxTokens:   opts.MaxTokensOrDefault(),
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimRight(opts.BaseURL, "/") + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	g.logger.DebugContext(ctx, "sending generation request", "protocol", proto.String(), "model", opts.Model, "turns", len(turns))

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &llm.ServiceError{Service: generationService, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, newHTTPError(resp)
	}

	return resp.Body, nil
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// newHTTPError は非2xx応答を ServiceError に変換する。
// エラーメッセージ（なければ本文）が v1/responses を含む場合は ErrResponsesRequired を内包する。
func newHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	text := strings.TrimSpace(string(body))
	if text == "" {
		text = resp.Status
	}

	serviceErr := &llm.ServiceError{
		Service:    generationService,
		StatusCode: resp.StatusCode,
		Message:    text,
	}

	signal := text
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		signal = parsed.Error.Message
	}
	if strings.Contains(signal, responsesRequiredMarker) {
		serviceErr.Err = llm.ErrResponsesRequired
	}

	return serviceErr
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// streamChatCompletions は chat-completions のストリームを1行ずつ解釈する
func streamChatCompletions(body io.Reader, yield func(string, error) bool) error {
	var stopErr error
	err := readLines(body, func(line string) bool {
		data, ok := field(line, "data")
		if !ok {
			return true
		}
		if data == "[DONE]" {
			return false
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return true // 解析できないフレームは無視
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			stopErr = &llm.ServiceError{Service: generationService, Message: chunk.Error.Message}
			return false
		}
		if len(chunk.Choices) == 0 {
			return true
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			return yield(content, nil)
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return stopErr
}

type responsesEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Message  string `json:"message"`
	Response *struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (e responsesEvent) errorMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != nil && e.Error.Message != "":
		return e.Error.Message
	case e.Response != nil && e.Response.Error != nil && e.Response.Error.Message != "":
		return e.Response.Error.Message
	default:
		return e.Type
	}
}

// streamResponses は responses API のイベントストリームを解釈する
func streamResponses(body io.Reader, yield func(string, error) bool) error {
	var stopErr error
	err := readEvents(body, func(ev sseEvent) bool {
		if ev.Data == "[DONE]" {
			return false
		}

		var event responsesEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			return true
		}
		if event.Type == "" {
			event.Type = ev.Event
		}

		switch event.Type {
		case "response.output_text.delta":
			if event.Delta != "" {
				return yield(event.Delta, nil)
			}
		case "response.completed":
			return false
		case "error", "response.failed":
			stopErr = &llm.ServiceError{Service: generationService, Message: event.errorMessage()}
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	return stopErr
}

// インターフェース実装の確認
var _ llm.Generator = (*Generator)(nil)
