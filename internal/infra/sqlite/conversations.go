package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
)

const conversationSelect = `
	SELECT c.id, c.title, c.summary, c.created_at, c.updated_at,
	       (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count
	FROM conversations c`

func scanConversation(row rowScanner) (*chat.Conversation, error) {
	var (
		conv               chat.Conversation
		createdAt, updated string
	)
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Summary, &createdAt, &updated, &conv.MessageCount); err != nil {
		return nil, err
	}

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &conv, nil
}

// CreateConversation は会話を作成する
func (s *Store) CreateConversation(ctx context.Context, conv *chat.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, summary, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Summary, formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// GetConversation は会話をメッセージ数付きで取得する
func (s *Store) GetConversation(ctx context.Context, id string) (mo.Option[*chat.Conversation], error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx, conversationSelect+` WHERE c.id = ?`, id))
	if err != nil {
		if isNoRows(err) {
			return mo.None[*chat.Conversation](), nil
		}
		return mo.None[*chat.Conversation](), fmt.Errorf("failed to get conversation: %w", err)
	}
	return mo.Some(conv), nil
}

// ListConversations は更新日時の新しい順に会話を返す
func (s *Store) ListConversations(ctx context.Context) ([]*chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, conversationSelect+` ORDER BY c.updated_at DESC, c.rowid DESC`)
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

// UpdateConversationSummary は要約を更新する
func (s *Store) UpdateConversationSummary(ctx context.Context, id, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET summary = ?, updated_at = ? WHERE id = ?`,
		summary, formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update conversation summary: %w", err)
	}
	return nil
}

// TouchConversation は更新日時を現在時刻にする
func (s *Store) TouchConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, formatTime(s.now()), id); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

// DeleteConversation は会話を削除する（メッセージと参照は連鎖削除）
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// InsertMessage はメッセージと参照情報を保存し、会話の更新日時を進める
func (s *Store) InsertMessage(ctx context.Context, msg *chat.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, msg.ConversationID, msg.Role, msg.Content, formatTime(msg.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		for _, ref := range msg.References {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO message_references (id, message_id, ref_index, chunk_id, document_name, content, similarity)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				referenceID(msg.ID, ref.Rank),
				msg.ID,
				ref.Rank,
				nullString(ref.ChunkID),
				ref.DocumentName,
				nullString(ref.Content),
				nullFloat(ref.Similarity),
			)
			if err != nil {
				return fmt.Errorf("failed to insert message reference: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`,
			formatTime(s.now()), msg.ConversationID,
		); err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
}

// ListMessages は会話の全メッセージを古い順に参照情報付きで返す
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]*chat.Message, error) {
	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	byID := make(map[string]*chat.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.message_id, r.ref_index, r.chunk_id, r.document_name, r.content, r.similarity
		 FROM message_references r
		 JOIN messages m ON m.id = r.message_id
		 WHERE m.conversation_id = ?
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
			chunkID    sql.NullString
			content    sql.NullString
			similarity sql.NullFloat64
		)
		if err := rows.Scan(&ref.ID, &messageID, &ref.Rank, &chunkID, &ref.DocumentName, &content, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan message reference: %w", err)
		}
		ref.ChunkID = stringPtr(chunkID)
		ref.Content = stringPtr(content)
		ref.Similarity = floatPtr(similarity)

		if m, ok := byID[messageID]; ok {
			m.References = append(m.References, ref)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message references: %w", err)
	}

	return messages, nil
}

// RecentMessages は直近 limit 件のメッセージを古い順に返す
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	if limit <= 0 {
		return []*chat.Message{}, nil
	}

	messages, err := s.queryMessages(ctx,
		`SELECT id, conversation_id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

// DeleteMessages は会話の全メッセージを削除する
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// queryMessages は行を読み切ってから返す（後続クエリと単一コネクションを取り合わないため）
func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*chat.Message{}
	for rows.Next() {
		var (
			m         chat.Message
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
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
