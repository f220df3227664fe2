package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
	"github.com/FeishuCampRAG/rag-sys/pkg/lock"
)

// vectorsLockKey は追加と全削除がメタデータを取り合わないよう直列化する
var vectorsLockKey = lock.Key("rag-sys", "vectors")

const (
	defaultVectorModel     = "text-embedding-ada-002"
	defaultVectorDimension = 1536
)

// VectorIndex は pgvector に保存するベクトルインデックス。
// 類似度はコサイン距離 (<=>) から 1 - distance で求める。
type VectorIndex struct {
	pool      *pgxpool.Pool
	model     string
	dimension int
	logger    *slog.Logger
	now       func() time.Time
}

// インターフェース実装の確認
var _ vectorindex.Index = (*VectorIndex)(nil)

// VectorOption は VectorIndex のオプション
type VectorOption func(*VectorIndex)

// WithVectorLogger はロガーを設定する
func WithVectorLogger(logger *slog.Logger) VectorOption {
	return func(v *VectorIndex) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithVectorModel はメタデータに記録するモデル名と次元数を設定する
func WithVectorModel(model string, dimension int) VectorOption {
	return func(v *VectorIndex) {
		if model != "" {
			v.model = model
		}
		if dimension > 0 {
			v.dimension = dimension
		}
	}
}

// WithVectorClock は時刻取得関数を差し替える（テスト用）
func WithVectorClock(now func() time.Time) VectorOption {
	return func(v *VectorIndex) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVectorIndex は VectorIndex を生成する
func NewVectorIndex(pool *pgxpool.Pool, opts ...VectorOption) *VectorIndex {
	v := &VectorIndex{
		pool:      pool,
		model:     defaultVectorModel,
		dimension: defaultVectorDimension,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Add はレコードを追加する（同じIDは上書き）
func (v *VectorIndex) Add(ctx context.Context, records []vectorindex.Record) error {
	if len(records) == 0 {
		return nil
	}

	return Transact(ctx, v.pool, func(tx pgx.Tx) error {
		if err := lock.Acquire(ctx, tx, vectorsLockKey); err != nil {
			return err
		}
		dimension, err := v.ensureMetadata(ctx, tx)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, r := range records {
			if len(r.Embedding) != dimension {
				v.logger.WarnContext(ctx, "embedding dimension mismatch",
					"recordID", r.ID,
					"documentID", r.DocumentID,
					"dimension", len(r.Embedding),
					"expected", dimension,
				)
			}
			batch.Queue(
				`INSERT INTO vectors (id, document_id, document_name, content, chunk_index, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6::vector)
				 ON CONFLICT (id) DO UPDATE SET
				     document_id = EXCLUDED.document_id,
				     document_name = EXCLUDED.document_name,
				     content = EXCLUDED.content,
				     chunk_index = EXCLUDED.chunk_index,
				     embedding = EXCLUDED.embedding`,
				r.ID, r.DocumentID, r.DocumentName, r.Content, r.ChunkOrdinal, Float32sToVector(r.Embedding),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert vectors: %w", err)
		}

		return v.touchMetadata(ctx, tx)
	})
}

// DeleteByDocument はドキュメントに属するベクトルを削除する
func (v *VectorIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	return Transact(ctx, v.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM vectors WHERE document_id = $1`, documentID)
		if err != nil {
			return fmt.Errorf("failed to delete vectors: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return v.touchMetadata(ctx, tx)
	})
}

// Search は threshold 以上の類似度を持つベクトルを降順で最大 topK 件返す。
// クエリと次元が異なるベクトルは比較できないため対象外になる。
func (v *VectorIndex) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]vectorindex.SearchResult, error) {
	results := []vectorindex.SearchResult{}
	if topK <= 0 || len(query) == 0 {
		return results, nil
	}

	rows, err := v.pool.Query(ctx,
		`SELECT id, document_id, document_name, content, chunk_index, 1 - distance AS similarity
		 FROM (
		     SELECT id, document_id, document_name, content, chunk_index, seq,
		            CASE WHEN vector_dims(embedding) = $2 THEN embedding <=> $1::vector END AS distance
		     FROM vectors
		 ) v
		 WHERE distance IS NOT NULL
		   AND distance <> 'NaN'::float8
		   AND 1 - distance >= $3
		 ORDER BY distance ASC, seq ASC
		 LIMIT $4`,
		Float32sToVector(query), len(query), threshold, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r vectorindex.SearchResult
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.DocumentName, &r.Content, &r.ChunkOrdinal, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search results: %w", err)
	}
	return results, nil
}

// Clear は全ベクトルを削除しメタデータを初期化する
func (v *VectorIndex) Clear(ctx context.Context) error {
	return Transact(ctx, v.pool, func(tx pgx.Tx) error {
		if err := lock.Acquire(ctx, tx, vectorsLockKey); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM vectors`); err != nil {
			return fmt.Errorf("failed to clear vectors: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO vector_metadata (id, model, dimension, last_updated) VALUES (1, $1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET model = EXCLUDED.model, dimension = EXCLUDED.dimension, last_updated = EXCLUDED.last_updated`,
			v.model, v.dimension, TimeToPgtimestamptz(v.now()),
		)
		if err != nil {
			return fmt.Errorf("failed to reset vector metadata: %w", err)
		}
		return nil
	})
}

// Stats は件数とメタデータを返す
func (v *VectorIndex) Stats(ctx context.Context) (vectorindex.Stats, error) {
	var (
		stats       vectorindex.Stats
		model       pgtype.Text
		dimension   pgtype.Int4
		lastUpdated pgtype.Timestamptz
		count       int64
	)
	err := v.pool.QueryRow(ctx,
		`SELECT m.model, m.dimension, m.last_updated, (SELECT COUNT(*) FROM vectors)
		 FROM (SELECT 1) AS one
		 LEFT JOIN vector_metadata m ON m.id = 1`,
	).Scan(&model, &dimension, &lastUpdated, &count)
	if err != nil {
		return stats, fmt.Errorf("failed to get vector stats: %w", err)
	}

	stats.Model = v.model
	if model.Valid {
		stats.Model = model.String
	}
	stats.Dimension = v.dimension
	if dimension.Valid {
		stats.Dimension = int(dimension.Int32)
	}
	if lastUpdated.Valid {
		stats.LastUpdated = PgtimestamptzToTime(lastUpdated)
	}
	stats.Count = int(count)
	return stats, nil
}

// ensureMetadata はメタデータ行を作成し、記録された次元数を返す
func (v *VectorIndex) ensureMetadata(ctx context.Context, q DBTX) (int, error) {
	_, err := q.Exec(ctx,
		`INSERT INTO vector_metadata (id, model, dimension, last_updated) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		v.model, v.dimension, TimeToPgtimestamptz(v.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to init vector metadata: %w", err)
	}

	var dimension int
	if err := q.QueryRow(ctx, `SELECT dimension FROM vector_metadata WHERE id = 1`).Scan(&dimension); err != nil {
		return 0, fmt.Errorf("failed to read vector metadata: %w", err)
	}
	return dimension, nil
}

func (v *VectorIndex) touchMetadata(ctx context.Context, q DBTX) error {
	if _, err := q.Exec(ctx, `UPDATE vector_metadata SET last_updated = $1 WHERE id = 1`, TimeToPgtimestamptz(v.now())); err != nil {
		return fmt.Errorf("failed to update vector metadata: %w", err)
	}
	return nil
}
