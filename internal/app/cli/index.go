package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

// IndexStatsAction はベクトルインデックスの統計を表示するコマンドのアクション
func IndexStatsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("インデックス統計の取得に失敗: %w", err)
	}

	renderIndexStats(os.Stdout, stats)
	return nil
}

// IndexClearAction はベクトルインデックスを空にするコマンドのアクション
func IndexClearAction(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("全ベクトルを削除します。実行するには --yes を指定してください")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Index.Clear(ctx); err != nil {
		return fmt.Errorf("インデックスの削除に失敗: %w", err)
	}

	fmt.Println("インデックスを削除しました")
	return nil
}

func renderIndexStats(w io.Writer, stats vectorindex.Stats) {
	table := tablewriter.NewWriter(w)
	table.Header("項目", "値")

	table.Append("Model", stats.Model)
	table.Append("Dimension", strconv.Itoa(stats.Dimension))
	table.Append("Count", strconv.Itoa(stats.Count))
	if !stats.LastUpdated.IsZero() {
		table.Append("Last Updated", stats.LastUpdated.Local().Format("2006-01-02 15:04:05"))
	}

	table.Render()
}
