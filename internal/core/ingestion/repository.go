package ingestion

import (
	"context"

	"github.com/samber/mo"
)

// Repository はドキュメントとチャンクの永続化を担う
type Repository interface {
	// CreateDocument はドキュメントを作成する
	CreateDocument(ctx context.Context, doc *Document) error

	// GetDocument はドキュメントを取得する（存在しなければ None）
	GetDocument(ctx context.Context, id string) (mo.Option[*Document], error)

	// ListDocuments は作成日時の新しい順にドキュメントを返す
	ListDocuments(ctx context.Context) ([]*Document, error)

	// UpdateDocumentStatus は状態とエラーメッセージを更新する
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg *string) error

	// MarkDocumentReady はチャンク数を記録し状態を ready にする
	MarkDocumentReady(ctx context.Context, id string, chunkCount int) error

	// DeleteDocument はドキュメントを削除する
	DeleteDocument(ctx context.Context, id string) error

	// InsertChunks はチャンクをまとめて保存する
	InsertChunks(ctx context.Context, chunks []*StoredChunk) error

	// ListChunks はドキュメントのチャンクを順序通りに返す
	ListChunks(ctx context.Context, documentID string) ([]*StoredChunk, error)

	// DeleteChunks はドキュメントの全チャンクを削除する
	DeleteChunks(ctx context.Context, documentID string) error
}
