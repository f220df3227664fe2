// Package migrations は SQLite ストアのスキーマ定義を埋め込む
package migrations

import "embed"

// FS は NNN_name.up.sql 形式のマイグレーションファイル
//
//go:embed *.sql
var FS embed.FS
