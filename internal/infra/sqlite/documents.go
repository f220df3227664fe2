package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
)

const documentColumns = `id, filename, original_name, file_size, mime_type, chunk_count, status, error_msg, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*ingestion.Document, error) {
	var (
		doc       ingestion.Document
		status    string
		errMsg    sql.NullString
		createdAt string
	)
	if err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.OriginalName,
		&doc.FileSize,
		&doc.MimeType,
		&doc.ChunkCount,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return nil, err
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	doc.Status = ingestion.DocumentStatus(status)
	doc.ErrorMsg = stringPtr(errMsg)
	doc.CreatedAt = created
	return &doc, nil
}

// CreateDocument はドキュメントを作成する
func (s *Store) CreateDocument(ctx context.Context, doc *ingestion.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID,
		doc.Filename,
		doc.OriginalName,
		doc.FileSize,
		doc.MimeType,
		doc.ChunkCount,
		string(doc.Status),
		nullString(doc.ErrorMsg),
		formatTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// GetDocument はドキュメントを取得する
func (s *Store) GetDocument(ctx context.Context, id string) (mo.Option[*ingestion.Document], error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if isNoRows(err) {
			return mo.None[*ingestion.Document](), nil
		}
		return mo.None[*ingestion.Document](), fmt.Errorf("failed to get document: %w", err)
	}
	return mo.Some(doc), nil
}

// ListDocuments は作成日時の新しい順にドキュメントを返す
func (s *Store) ListDocuments(ctx context.Context) ([]*ingestion.Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*ingestion.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// UpdateDocumentStatus は状態とエラーメッセージを更新する
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status ingestion.DocumentStatus, errMsg *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_msg = ? WHERE id = ?`,
		string(status), nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

// MarkDocumentReady はチャンク数を記録し状態を ready にする
func (s *Store) MarkDocumentReady(ctx context.Context, id string, chunkCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET chunk_count = ?, status = ?, error_msg = NULL WHERE id = ?`,
		chunkCount, string(ingestion.StatusReady), id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	return nil
}

// DeleteDocument はドキュメントを削除する（チャンクは外部キーで連鎖削除）
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// InsertChunks はチャンクを1トランザクションで保存する
func (s *Store) InsertChunks(ctx context.Context, chunks []*ingestion.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (id, document_id, content, chunk_index, char_count) VALUES (?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return fmt.Errorf("failed to prepare chunk insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range chunks {
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content, c.ChunkIndex, c.CharCount); err != nil {
				return fmt.Errorf("failed to insert chunk: %w", err)
			}
		}
		return nil
	})
}

// ListChunks はドキュメントのチャンクを chunk_index 順に返す
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*ingestion.StoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, content, chunk_index, char_count FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*ingestion.StoredChunk{}
	for rows.Next() {
		var c ingestion.StoredChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &c.CharCount); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return chunks, nil
}

// DeleteChunks はドキュメントの全チャンクを削除する
func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
