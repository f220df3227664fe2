// Package lock は PostgreSQL のトランザクションスコープのアドバイザリロックを扱う
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Key は名前の並びから64bitのロックキーを導出する
func Key(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		// 区切りが無いと ("ab","c") と ("a","bc") が衝突する
		h.Write([]byte{0})
	}
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// Acquire は key のロックを取得するまで待つ。ロックは tx の終了時に解放される。
func Acquire(ctx context.Context, tx pgx.Tx, key int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
