package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage はメッセージが空の場合のエラー
	ErrEmptyMessage = errors.New("message is required")

	// ErrConversationNotFound は会話が存在しない場合のエラー
	ErrConversationNotFound = errors.New("conversation not found")
)

// StageError はパイプラインのどの段階で失敗したかを保持する
type StageError struct {
	Step Step // 段階外の失敗では空
	Err  error
}

func (e *StageError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s stage failed: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
