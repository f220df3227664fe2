package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
)

// sseWriter は chat.EventSink を text/event-stream として書き出す
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

// インターフェース実装の確認
var _ chat.EventSink = (*sseWriter)(nil)

// newSSEWriter はヘッダーを送出してストリームを開始する。
// 最初のフラッシュに失敗した場合はエラーを返す。
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Send は1イベントを `event: <name>\ndata: <json>\n\n` の形式で書き出す
func (s *sseWriter) Send(ctx context.Context, event chat.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := marshalEventData(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return s.flush()
}

func (s *sseWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// marshalEventData は HTML エスケープせず1行のJSONにする
func marshalEventData(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
