package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
)

// インターフェース実装の確認
var _ ingestion.Repository = (*Store)(nil)

const documentColumns = `id, filename, original_name, file_size, mime_type, chunk_count, status, error_msg, created_at`

func scanDocument(row pgx.Row) (*ingestion.Document, error) {
	var (
		doc       ingestion.Document
		status    string
		errMsg    pgtype.Text
		createdAt pgtype.Timestamptz
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
	doc.Status = ingestion.DocumentStatus(status)
	doc.ErrorMsg = PgtextToStringPtr(errMsg)
	doc.CreatedAt = PgtimestamptzToTime(createdAt)
	return &doc, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc *ingestion.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID,
		doc.Filename,
		doc.OriginalName,
		doc.FileSize,
		doc.MimeType,
		doc.ChunkCount,
		string(doc.Status),
		StringPtrToPgtext(doc.ErrorMsg),
		TimeToPgtimestamptz(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (mo.Option[*ingestion.Document], error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return mo.None[*ingestion.Document](), nil
		}
		return mo.None[*ingestion.Document](), fmt.Errorf("failed to get document: %w", err)
	}
	return mo.Some(doc), nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]*ingestion.Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id DESC`)
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

func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status ingestion.DocumentStatus, errMsg *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, error_msg = $3 WHERE id = $1`,
		id, string(status), StringPtrToPgtext(errMsg),
	)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return nil
}

func (s *Store) MarkDocumentReady(ctx context.Context, id string, chunkCount int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE documents SET chunk_count = $2, status = $3, error_msg = NULL WHERE id = $1`,
		id, chunkCount, string(ingestion.StatusReady),
	)
	if err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// InsertChunks はチャンクをバッチで1トランザクションに保存する
func (s *Store) InsertChunks(ctx context.Context, chunks []*ingestion.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return Transact(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range chunks {
			batch.Queue(
				`INSERT INTO chunks (id, document_id, content, chunk_index, char_count) VALUES ($1, $2, $3, $4, $5)`,
				c.ID, c.DocumentID, c.Content, c.ChunkIndex, c.CharCount,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
}

func (s *Store) ListChunks(ctx context.Context, documentID string) ([]*ingestion.StoredChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, content, chunk_index, char_count FROM chunks WHERE document_id = $1 ORDER BY chunk_index`,
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

func (s *Store) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
