package settings

import (
	"context"

	"github.com/samber/mo"
)

// Key は設定のJSONを保存するキー
const Key = "app_settings"

// Repository はキー・バリュー形式の設定ストア
type Repository interface {
	// GetSetting はキーの値を返す（未保存なら None）
	GetSetting(ctx context.Context, key string) (mo.Option[string], error)

	// SetSetting はキーの値を保存する
	SetSetting(ctx context.Context, key, value string) error
}
