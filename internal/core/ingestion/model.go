package ingestion

import (
	"time"
)

// DocumentStatus はドキュメントの処理状態
type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Document はアップロードされたドキュメント
type Document struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"` // アップロードディレクトリ内の保存名
	OriginalName string         `json:"original_name"`
	FileSize     int64          `json:"file_size"`
	MimeType     string         `json:"mime_type"`
	ChunkCount   int            `json:"chunk_count"`
	Status       DocumentStatus `json:"status"`
	ErrorMsg     *string        `json:"error_msg,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StoredChunk は永続化されたチャンク
type StoredChunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
	CharCount  int    `json:"char_count"`
}

// DocumentContent はドキュメント本文の取得結果
type DocumentContent struct {
	Content      string `json:"content"`
	MimeType     string `json:"mime_type"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
}

// Upload は取り込み対象ファイルの情報
type Upload struct {
	OriginalName string
	MimeType     string // 空なら内容から判定
	Size         int64
}
