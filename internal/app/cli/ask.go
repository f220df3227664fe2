package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/FeishuCampRAG/rag-sys/internal/core/chat"
	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	showSteps := cmd.Bool("show-steps")
	showSources := cmd.Bool("show-sources")
	conversationID := cmd.String("conversation")
	envFile := cmd.String("env")

	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	slog.Info("質問応答を開始",
		"conversationID", conversationID,
		"showSteps", showSteps,
	)

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	sink := &consoleSink{out: os.Stdout, steps: os.Stderr, showSteps: showSteps}
	result, err := appCtx.Container.Chat.Chat(ctx, chat.Request{
		Message:        question,
		ConversationID: conversationID,
		Overrides:      askOverrides(cmd),
	}, sink)
	if err != nil {
		return fmt.Errorf("質問応答に失敗: %w", err)
	}
	fmt.Fprintln(os.Stdout)

	if showSources {
		renderReferences(os.Stdout, result.AssistantMessage.References)
	}
	fmt.Fprintf(os.Stderr, "conversation: %s\n", result.ConversationID)

	slog.Info("質問応答が完了しました", "conversationID", result.ConversationID)
	return nil
}

func askOverrides(cmd *cli.Command) settings.Patch {
	var p settings.Patch
	if cmd.IsSet("top-k") || cmd.IsSet("threshold") {
		p.Retrieval = &settings.RetrievalPatch{}
		if cmd.IsSet("top-k") {
			topK := int(cmd.Int("top-k"))
			p.Retrieval.TopK = &topK
		}
		if cmd.IsSet("threshold") {
			threshold := cmd.Float("threshold")
			p.Retrieval.Threshold = &threshold
		}
	}
	if model := cmd.String("model"); model != "" {
		p.Model = &settings.ModelPatch{ChatModel: &model}
	}
	return p
}

// consoleSink はトークンを out に逐次書き出し、段階の進捗を steps に書き出す
type consoleSink struct {
	out       io.Writer
	steps     io.Writer
	showSteps bool
}

// インターフェース実装の確認
var _ chat.EventSink = (*consoleSink)(nil)

func (s *consoleSink) Send(_ context.Context, event chat.Event) error {
	switch data := event.Data.(type) {
	case chat.TokenEvent:
		_, err := io.WriteString(s.out, data.Token)
		return err
	case chat.ErrorEvent:
		if data.Step != "" {
			_, err := fmt.Fprintf(s.steps, "[error] %s: %s\n", data.Step, data.Message)
			return err
		}
		_, err := fmt.Fprintf(s.steps, "[error] %s\n", data.Message)
		return err
	}

	if !s.showSteps {
		return nil
	}

	var err error
	switch data := event.Data.(type) {
	case chat.StepEvent:
		_, err = fmt.Fprintf(s.steps, "[%s] %s\n", data.Step, data.Status)
	case chat.EmbeddingDoneEvent:
		_, err = fmt.Fprintf(s.steps, "[%s] %s (dimension=%d)\n", data.Step, data.Status, data.Dimension)
	case chat.RetrievalDoneEvent:
		_, err = fmt.Fprintf(s.steps, "[%s] %s (chunks=%d)\n", data.Step, data.Status, len(data.Chunks))
	case chat.PromptDoneEvent:
		_, err = fmt.Fprintf(s.steps, "[%s] %s (chars=%d)\n", data.Step, data.Status, len([]rune(data.Content)))
	}
	return err
}

// renderReferences は回答が参照したチャンクを表示する
func renderReferences(w io.Writer, refs []chat.Reference) {
	if len(refs) == 0 {
		return
	}
	fmt.Fprintln(w, "\n--- 参照ソース ---")
	for _, ref := range refs {
		if ref.Similarity != nil {
			fmt.Fprintf(w, "[%d] %s スコア: %.4f\n", ref.Rank, ref.DocumentName, *ref.Similarity)
			continue
		}
		fmt.Fprintf(w, "[%d] %s\n", ref.Rank, ref.DocumentName)
	}
}
