package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/FeishuCampRAG/rag-sys/internal/core/ingestion"
	"github.com/FeishuCampRAG/rag-sys/internal/infra/extract"
)

// IngestAction は指定ファイルを同期的に取り込むコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("取り込むファイルを指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var failed []error
	docs := make([]*ingestion.Document, 0, len(paths))
	for _, path := range paths {
		slog.Info("ファイルを取り込みます", "path", path)
		doc, err := ingestFile(ctx, appCtx.Container.Documents, path)
		if err != nil {
			slog.Error("取り込みに失敗しました", "path", path, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
			if doc == nil {
				continue
			}
		}
		docs = append(docs, doc)
	}

	renderDocumentsTable(os.Stdout, docs)
	return errors.Join(failed...)
}

func ingestFile(ctx context.Context, svc *ingestion.Service, path string) (*ingestion.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ファイルを開けません: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("ファイルの読み込みに失敗: %w", err)
	}

	name := filepath.Base(path)
	mimeType := extract.DetectMimeType(name, head[:n])
	if !extract.Supported(mimeType) {
		return nil, fmt.Errorf("未対応のファイル形式です: %s", mimeType)
	}

	doc, err := svc.Ingest(ctx, f, ingestion.Upload{
		OriginalName: name,
		MimeType:     mimeType,
	})
	if err != nil && doc != nil {
		// error 状態を反映した値を表示する
		if latest, getErr := svc.Get(ctx, doc.ID); getErr == nil {
			doc = latest
		}
	}
	return doc, err
}

// DocumentListAction はドキュメント一覧を表示するコマンドのアクション
func DocumentListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	docs, err := appCtx.Container.Documents.List(ctx)
	if err != nil {
		return fmt.Errorf("ドキュメント一覧の取得に失敗: %w", err)
	}

	renderDocumentsTable(os.Stdout, docs)
	return nil
}

// DocumentChunksAction はドキュメントのチャンクを表示するコマンドのアクション
func DocumentChunksAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if _, err := appCtx.Container.Documents.Get(ctx, id); err != nil {
		return fmt.Errorf("ドキュメントの取得に失敗: %w", err)
	}
	chunks, err := appCtx.Container.Documents.Chunks(ctx, id)
	if err != nil {
		return fmt.Errorf("チャンクの取得に失敗: %w", err)
	}

	for _, c := range chunks {
		fmt.Printf("--- #%d (%d文字) ---\n%s\n", c.ChunkIndex, c.CharCount, c.Content)
	}
	return nil
}

// DocumentDeleteAction はドキュメントを削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Documents.Delete(ctx, id); err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}

	fmt.Printf("ドキュメントを削除しました: %s\n", id)
	return nil
}

// renderDocumentsTable はテーブル形式でドキュメント一覧を表示する
func renderDocumentsTable(w io.Writer, docs []*ingestion.Document) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Status", "Chunks", "Size", "Created At")

	for _, doc := range docs {
		status := string(doc.Status)
		if doc.ErrorMsg != nil {
			status += ": " + *doc.ErrorMsg
		}
		table.Append(
			doc.ID,
			doc.OriginalName,
			status,
			strconv.Itoa(doc.ChunkCount),
			strconv.FormatInt(doc.FileSize, 10),
			doc.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}
