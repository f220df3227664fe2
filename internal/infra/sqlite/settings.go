package sqlite

import (
	"context"
	"fmt"

	"github.com/samber/mo"
)

// GetSetting はキーの値を返す
func (s *Store) GetSetting(ctx context.Context, key string) (mo.Option[string], error) {
	var value string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value); err != nil {
		if isNoRows(err) {
			return mo.None[string](), nil
		}
		return mo.None[string](), fmt.Errorf("failed to get setting: %w", err)
	}
	return mo.Some(value), nil
}

// SetSetting はキーの値を保存する
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
