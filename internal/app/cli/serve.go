package cli

import (
	"context"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/FeishuCampRAG/rag-sys/internal/interface/httpapi"
)

// ServeAction はHTTP APIサーバを起動するコマンドのアクション
func ServeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	addr := appCtx.Config.Server.Addr
	if override := cmd.String("addr"); override != "" {
		addr = override
	}

	slog.Info("HTTPサーバを起動します", "addr", addr)

	c := appCtx.Container
	server := httpapi.New(addr, httpapi.Services{
		Chat:      c.Chat,
		Documents: c.Documents,
		Settings:  c.Settings,
	}, httpapi.WithLogger(c.Logger()))

	if err := server.Run(ctx); err != nil {
		return err
	}

	slog.Info("HTTPサーバを停止しました")
	return nil
}
