package chat

import (
	"context"

	"github.com/samber/mo"
)

// Repository は会話とメッセージの永続化を担う
type Repository interface {
	// CreateConversation は会話を作成する
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation は会話を取得する（存在しなければ None）
	GetConversation(ctx context.Context, id string) (mo.Option[*Conversation], error)

	// ListConversations は更新日時の新しい順に会話を返す
	ListConversations(ctx context.Context) ([]*Conversation, error)

	// UpdateConversationSummary は要約を更新する
	UpdateConversationSummary(ctx context.Context, id, summary string) error

	// TouchConversation は更新日時を現在時刻にする
	TouchConversation(ctx context.Context, id string) error

	// DeleteConversation は会話とそのメッセージを削除する
	DeleteConversation(ctx context.Context, id string) error

	// InsertMessage はメッセージと参照情報を保存し、会話の更新日時を進める
	InsertMessage(ctx context.Context, msg *Message) error

	// ListMessages は会話の全メッセージを古い順に参照情報付きで返す
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// RecentMessages は直近 limit 件のメッセージを古い順に返す（参照情報なし）
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// DeleteMessages は会話の全メッセージを削除する（会話は残す）
	DeleteMessages(ctx context.Context, conversationID string) error
}
