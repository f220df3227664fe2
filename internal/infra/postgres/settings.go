package postgres

import (
	"context"
	"fmt"

	"github.com/samber/mo"

	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

// インターフェース実装の確認
var _ settings.Repository = (*Store)(nil)

func (s *Store) GetSetting(ctx context.Context, key string) (mo.Option[string], error) {
	var value string
	if err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value); err != nil {
		if isNoRows(err) {
			return mo.None[string](), nil
		}
		return mo.None[string](), fmt.Errorf("failed to get setting: %w", err)
	}
	return mo.Some(value), nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, TimeToPgtimestamptz(s.now()),
	)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
