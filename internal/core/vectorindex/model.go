package vectorindex

import (
	"context"
	"time"
)

// Record はチャンク1件分のベクトルと出典情報
type Record struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Content      string    `json:"content"`
	ChunkOrdinal int       `json:"chunk_index"`
	Embedding    []float32 `json:"embedding"`
}

// SearchResult は検索結果（埋め込みを除いたレコードと類似度）
type SearchResult struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Content      string  `json:"content"`
	ChunkOrdinal int     `json:"chunk_index"`
	Similarity   float64 `json:"similarity"`
}

// Stats はインデックスの統計情報
type Stats struct {
	Model       string    `json:"model"`
	Dimension   int       `json:"dimension"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// Index はベクトルレコードを保持し、コサイン類似度で線形検索するインターフェース
type Index interface {
	// Add はレコードを追加する
	Add(ctx context.Context, records []Record) error

	// DeleteByDocument はドキュメントに属する全レコードを削除する（存在しなくてもエラーにしない）
	DeleteByDocument(ctx context.Context, documentID string) error

	// Search は threshold 以上の類似度を持つレコードを降順で最大 topK 件返す
	Search(ctx context.Context, query []float32, topK int, threshold float64) ([]SearchResult, error)

	// Clear は全レコードを削除しメタデータを初期化する
	Clear(ctx context.Context) error

	// Stats は件数などの統計情報を返す
	Stats(ctx context.Context) (Stats, error)
}
