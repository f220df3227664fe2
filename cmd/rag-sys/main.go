package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/FeishuCampRAG/rag-sys/internal/app/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func idFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    usage,
		Required: true,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（設定読み込み後に置き換わる）
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "rag-sys",
		Usage: "ドキュメント検索拡張生成（RAG）サーバとCLI",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "HTTP APIサーバを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は SERVER_ADDR または :PORT）",
					},
				},
				Action: appcli.ServeAction,
			},
			{
				Name:      "ingest",
				Usage:     "ファイルを取り込んでインデックスに追加",
				ArgsUsage: "<file>...",
				Flags:     []cli.Flag{envFlag()},
				Action:    appcli.IngestAction,
			},
			{
				Name:      "ask",
				Usage:     "質問してストリーミングで回答を表示",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "conversation",
						Usage: "会話ID（省略時は新規作成）",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索するチャンク数",
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "類似度の下限",
					},
					&cli.StringFlag{
						Name:  "model",
						Usage: "チャットモデル",
					},
					&cli.BoolFlag{
						Name:  "show-steps",
						Usage: "パイプラインの進捗を標準エラーに表示",
					},
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照したチャンクを表示",
					},
				},
				Action: appcli.AskAction,
			},
			{
				Name:  "documents",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "ドキュメント一覧を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.DocumentListAction,
					},
					{
						Name:   "chunks",
						Usage:  "ドキュメントのチャンクを表示",
						Flags:  []cli.Flag{envFlag(), idFlag("ドキュメントID")},
						Action: appcli.DocumentChunksAction,
					},
					{
						Name:   "delete",
						Usage:  "ドキュメントを削除",
						Flags:  []cli.Flag{envFlag(), idFlag("ドキュメントID")},
						Action: appcli.DocumentDeleteAction,
					},
				},
			},
			{
				Name:  "conversations",
				Usage: "会話管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "会話一覧を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.ConversationListAction,
					},
					{
						Name:   "history",
						Usage:  "会話の履歴を表示",
						Flags:  []cli.Flag{envFlag(), idFlag("会話ID")},
						Action: appcli.ConversationHistoryAction,
					},
					{
						Name:   "delete",
						Usage:  "会話を削除",
						Flags:  []cli.Flag{envFlag(), idFlag("会話ID")},
						Action: appcli.ConversationDeleteAction,
					},
				},
			},
			{
				Name:  "index",
				Usage: "ベクトルインデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "インデックスの統計を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.IndexStatsAction,
					},
					{
						Name:  "clear",
						Usage: "全ベクトルを削除",
						Flags: []cli.Flag{
							envFlag(),
							&cli.BoolFlag{
								Name:  "yes",
								Usage: "確認なしで実行",
							},
						},
						Action: appcli.IndexClearAction,
					},
				},
			},
			{
				Name:  "settings",
				Usage: "設定コマンド",
				Commands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "現在の設定を表示",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.SettingsShowAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
