package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
)

// ConversationListAction は会話一覧を表示するコマンドのアクション
func ConversationListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	convs, err := appCtx.Container.Chat.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("会話一覧の取得に失敗: %w", err)
	}

	renderConversationsTable(os.Stdout, convs)
	return nil
}

// ConversationHistoryAction は会話のメッセージ履歴を表示するコマンドのアクション
func ConversationHistoryAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	messages, err := appCtx.Container.Chat.History(ctx, id)
	if err != nil {
		return fmt.Errorf("履歴の取得に失敗: %w", err)
	}

	renderHistory(os.Stdout, messages)
	return nil
}

// ConversationDeleteAction は会話を削除するコマンドのアクション
func ConversationDeleteAction(ctx context.Context, cmd *cli.Command) error {
	id := cmd.String("id")

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Chat.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("会話の削除に失敗: %w", err)
	}

	fmt.Printf("会話を削除しました: %s\n", id)
	return nil
}

// renderConversationsTable はテーブル形式で会話一覧を表示する
func renderConversationsTable(w io.Writer, convs []*chat.Conversation) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Summary", "Messages", "Updated At")

	for _, conv := range convs {
		table.Append(
			conv.ID,
			conv.Summary,
			strconv.Itoa(conv.MessageCount),
			conv.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}

	table.Render()
}

func renderHistory(w io.Writer, messages []*chat.Message) {
	for _, msg := range messages {
		fmt.Fprintf(w, "[%s] %s\n%s\n", msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), msg.Role, msg.Content)
		renderReferences(w, msg.References)
		fmt.Fprintln(w)
	}
}
