package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
)

// インターフェース実装の確認
var _ chat.Repository = (*Store)(nil)

const conversationSelect = `
	SELECT c.id, c.title, c.summary, c.created_at, c.updated_at,
	       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
	FROM conversations c`

func scanConversation(row pgx.Row) (*chat.Conversation, error) {
	var (
		conv               chat.Conversation
		createdAt, updated pgtype.Timestamptz
		count              int64
	)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Summary, &createdAt, &updated, &count); err != nil {
		return nil, err
	}
	conv.CreatedAt = PgtimestamptzToTime(createdAt)
	conv.UpdatedAt = PgtimestamptzToTime(updated)
	conv.MessageCount = int(count)
	return &conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title, summary, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.Title, conv.Summary, TimeToPgtimestamptz(conv.CreatedAt), TimeToPgtimestamptz(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (mo.Option[*chat.Conversation], error) {
	conv, err := scanConversation(s.pool.QueryRow(ctx, conversationSelect+` WHERE c.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return mo.None[*chat.Conversation](), nil
		}
		return mo.None[*chat.Conversation](), fmt.Errorf("failed to get conversation: %w", err)
	}
	return mo.Some(conv), nil
}

func (s *Store) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	rows, err := s.pool.Query(ctx, conversationSelect+` ORDER BY c.updated_at DESC, c.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	convs := []*chat.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return convs, nil
}

func (s *Store) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET summary = $2, updated_at = $3 WHERE id = $1`,
		id, summary, TimeToPgtimestamptz(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id string) error {
	return s.touch(ctx, s.pool, id)
}

func (s *Store) touch(ctx context.Context, q DBTX, id string) error {
	if _, err := q.Exec(ctx, `UPDATE conversations SET updated_at = $2 WHERE id = $1`, id, TimeToPgtimestamptz(s.now())); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *chat.Message) error {
	return Transact(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, msg.ConversationID, msg.Role, msg.Content, TimeToPgtimestamptz(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if len(msg.References) > 0 {
			batch := &pgx.Batch{}
			for _, ref := range msg.References {
				batch.Queue(
					`INSERT INTO message_references (id, message_id, ref_index, chunk_id, document_name, content, similarity)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					referenceID(msg.ID, ref.Rank),
					msg.ID,
					ref.Rank,
					StringPtrToPgtext(ref.ChunkID),
					ref.DocumentName,
					StringPtrToPgtext(ref.Content),
					Float64PtrToPgFloat8(ref.Similarity),
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert message references: %w", err)
			}
		}

		return s.touch(ctx, tx, msg.ConversationID)
	})
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at ASC, seq ASC`,
		conversationID,
	)
	if err != nil || len(messages) == 0 {
		return messages, err
	}

	byID := make(map[string]*chat.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.message_id, r.ref_index, r.chunk_id, r.document_name, r.content, r.similarity
		 FROM message_references r
		 JOIN messages m ON m.id = r.message_id
		 WHERE m.conversation_id = $1
		 ORDER BY r.message_id, r.ref_index`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list message references: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ref        chat.Reference
			messageID  string
			chunkID    pgtype.Text
			content    pgtype.Text
			similarity pgtype.Float8
		)
		if err := rows.Scan(&ref.ID, &messageID, &ref.Rank, &chunkID, &ref.DocumentName, &content, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan message reference: %w", err)
		}
		ref.ChunkID = PgtextToStringPtr(chunkID)
		ref.Content = PgtextToStringPtr(content)
		ref.Similarity = PgFloat8ToFloat64Ptr(similarity)

		if m, ok := byID[messageID]; ok {
			m.References = append(m.References, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message references: %w", err)
	}
	return messages, nil
}

func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		return []*chat.Message{}, nil
	}
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*chat.Message{}
	for rows.Next() {
		var (
			m         chat.Message
			createdAt pgtype.Timestamptz
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = PgtimestamptzToTime(createdAt)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func referenceID(messageID string, rank int) string {
	return fmt.Sprintf("%s-ref-%d", messageID, rank)
}
