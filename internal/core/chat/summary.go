package chat

import "strings"

const (
	// DefaultSummary は要約未設定の会話に付ける要約
	DefaultSummary = "新的对话"

	// DefaultTitle は会話タイトルの既定値
	DefaultTitle = "对话"

	summaryMaxRunes = 42
)

// Summarize は最初のユーザーメッセージから会話の要約を作る
func Summarize(message string) string {
	normalized := strings.Join(strings.Fields(message), " ")
	if normalized == "" {
		return DefaultSummary
	}

	runes := []rune(normalized)
	if len(runes) > summaryMaxRunes {
		return string(runes[:summaryMaxRunes]) + "..."
	}
	return normalized
}

// needsSummary は要約がまだ設定されていないかどうかを返す
func needsSummary(summary string) bool {
	s := strings.TrimSpace(summary)
	return s == "" || s == DefaultSummary
}
