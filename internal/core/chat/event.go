package chat

import (
	"context"

	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

// EventName はSSEのイベント名
type EventName string

const (
	EventStep  EventName = "step"
	EventToken EventName = "token"
	EventDone  EventName = "done"
	EventError EventName = "error"
)

// Step はパイプラインの段階
type Step string

const (
	StepEmbedding  Step = "embedding"
	StepRetrieval  Step = "retrieval"
	StepPrompt     Step = "prompt"
	StepGenerating Step = "generating"
)

// Status は段階の状態
type Status string

const (
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
)

// Event は呼び出し元へ送る進捗イベント
type Event struct {
	Name EventName
	Data any
}

// EventSink は進捗イベントの送信先
type EventSink interface {
	Send(ctx context.Context, event Event) error
}

// StepEvent は段階の開始・完了を表す
type StepEvent struct {
	Step   Step   `json:"step"`
	Status Status `json:"status"`
}

// EmbeddingDoneEvent は埋め込み完了時のイベント
type EmbeddingDoneEvent struct {
	StepEvent
	Dimension int `json:"dimension"`
}

// RetrievedChunk は検索完了イベントに含めるチャンク
type RetrievedChunk struct {
	ID           string  `json:"id"`
	Content      string  `json:"content"`
	DocumentName string  `json:"document_name"`
	Similarity   float64 `json:"similarity"`
}

// RetrievalDoneEvent は検索完了時のイベント（該当なしでも chunks は空配列）
type RetrievalDoneEvent struct {
	StepEvent
	Chunks []RetrievedChunk `json:"chunks"`
}

// PromptDoneEvent はプロンプト組み立て完了時のイベント
type PromptDoneEvent struct {
	StepEvent
	Content string `json:"content"`
}

// TokenEvent は生成トークン1つ分のイベント
type TokenEvent struct {
	Token string `json:"token"`
}

// DoneEvent は生成完了時のイベント
type DoneEvent struct {
	FullResponse   string `json:"fullResponse"`
	ConversationID string `json:"conversationId"`
}

// ErrorEvent は失敗を表すイベント。Step は失敗した段階（段階外なら省略）。
type ErrorEvent struct {
	Message string `json:"message"`
	Step    Step   `json:"step,omitempty"`
}

func stepEvent(step Step, status Status) Event {
	return Event{Name: EventStep, Data: StepEvent{Step: step, Status: status}}
}

func retrievedChunks(results []vectorindex.SearchResult) []RetrievedChunk {
	chunks := make([]RetrievedChunk, len(results))
	for i, r := range results {
		chunks[i] = RetrievedChunk{
			ID:           r.ID,
			Content:      r.Content,
			DocumentName: r.DocumentName,
			Similarity:   vectorindex.RoundSimilarity(r.Similarity),
		}
	}
	return chunks
}
