package chat

import (
	"time"

	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

// ロール
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation は会話を表す
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Message は会話内の1メッセージを表す
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Role           string      `json:"role"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	References     []Reference `json:"references,omitempty"`
}

// Reference はアシスタント回答が参照したチャンク。Rank は提示順の1始まり連番。
type Reference struct {
	ID           string   `json:"id"`
	Rank         int      `json:"index"`
	DocumentName string   `json:"document_name"`
	Content      *string  `json:"content,omitempty"`
	Similarity   *float64 `json:"similarity,omitempty"`
	ChunkID      *string  `json:"chunk_id,omitempty"`
}

// Request はチャット1回分の入力
type Request struct {
	Message        string
	ConversationID string // 空なら新規作成
	Overrides      settings.Patch
}

// Result はチャット1回分の結果
type Result struct {
	ConversationID   string
	UserMessage      *Message
	AssistantMessage *Message
}

// NewConversation は会話作成時の入力
type NewConversation struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Summary string `json:"summary,omitempty"`
}
