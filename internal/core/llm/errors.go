package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrResponsesRequired は chat-completions が拒否され responses API が必要な場合のエラー
	ErrResponsesRequired = errors.New("model requires the v1/responses endpoint")

	// ErrMalformedResponse は上流レスポンスに期待するフィールドがない場合のエラー
	ErrMalformedResponse = errors.New("malformed upstream response")

	// ErrStreamConsumed はストリームを二度反復しようとした場合のエラー
	ErrStreamConsumed = errors.New("stream already consumed")
)

// ServiceError は上流サービス（埋め込み・生成API）の失敗を表す
type ServiceError struct {
	Service    string // "Embedding" or "LLM"
	StatusCode int    // HTTP以外の失敗では0
	Message    string // 上流の本文またはエラーメッセージ
	Err        error
}

// Error は "<Service> API error: <本文>" 形式の文字列を返す
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s API error: %s", e.Service, e.Message)
}

// Unwrap は内部エラーを返す
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsResponsesRequired は err が responses API へのフォールバック条件かどうかを返す
func IsResponsesRequired(err error) bool {
	return errors.Is(err, ErrResponsesRequired)
}
