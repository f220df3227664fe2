package chat

import (
	"fmt"
	"strings"

	"github.com/FeishuCampRAG/rag-sys/internal/core/vectorindex"
)

const promptTemplate = `你是一个专业的知识库问答助手。请根据以下检索到的上下文信息来回答用户的问题。
如果上下文信息不足以回答问题，请如实告知。回答时请引用相关来源，格式为 [1]、[2] 等。

上下文信息：
%s

用户问题：%s

请用中文回答：`

// BuildPrompt は検索結果を [n] 形式で埋め込んだシステムプロンプトを組み立てる
func BuildPrompt(query string, results []vectorindex.SearchResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[%d] %s", i+1, r.Content)
	}
	return fmt.Sprintf(promptTemplate, strings.Join(blocks, "\n\n"), query)
}

// BuildReferences は検索結果を提示順の参照情報に変換する
func BuildReferences(results []vectorindex.SearchResult) []Reference {
	refs := make([]Reference, len(results))
	for i, r := range results {
		content := r.Content
		similarity := vectorindex.RoundSimilarity(r.Similarity)
		chunkID := r.ID
		refs[i] = Reference{
			ID:           chunkID,
			Rank:         i + 1,
			DocumentName: r.DocumentName,
			Content:      &content,
			Similarity:   &similarity,
			ChunkID:      &chunkID,
		}
	}
	return refs
}
