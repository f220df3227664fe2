package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// SettingsShowAction は現在の設定をJSONで表示するコマンドのアクション
func SettingsShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	current, err := appCtx.Container.Settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("設定の取得に失敗: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(current)
}
