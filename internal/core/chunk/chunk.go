package chunk

import (
	"strings"
)

// 既定のチャンクサイズとオーバーラップ（文字数）
const (
	DefaultMaxSize = 500
	DefaultOverlap = 50
)

// Chunk はドキュメント本文を分割した1断片を表す
type Chunk struct {
	Content   string `json:"content"`
	Ordinal   int    `json:"index"`
	CharCount int    `json:"char_count"`
}

// Normalize は空白の連続を単一スペースにまとめ、前後を除去します
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split は正規化したテキストを最大 maxSize 文字の重なりを持つチャンクに分割します。
// 文字数はルーン単位で数えます。ウィンドウ右端がテキスト途中にある場合は、
// start より後ろにある直近のスペースで切ります。次のウィンドウは
// 直前の末尾から overlap 文字戻った位置（単語境界に揃える）から始まります。
// maxSize が0以下なら既定値、overlap が負なら0として扱います。
func Split(text string, maxSize, overlap int) []Chunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}

	runes := []rune(Normalize(text))
	n := len(runes)

	if n <= maxSize {
		return []Chunk{{Content: string(runes), Ordinal: 0, CharCount: n}}
	}

	var chunks []Chunk
	start := 0
	for start < n {
		end := start + maxSize
		if end < n {
			if space := lastSpace(runes, end); space > start {
				end = space
			}
		} else {
			end = n
		}

		if content := strings.TrimSpace(string(runes[start:end])); content != "" {
			chunks = append(chunks, Chunk{
				Content:   content,
				Ordinal:   len(chunks),
				CharCount: len([]rune(content)),
			})
		}

		if end >= n {
			break
		}

		// overlap >= maxSize でも必ず前進させる
		next := end - overlap
		if next <= start {
			next = end
		}
		// 単語の途中から始まらないよう次の区切りまで進める
		for next < end && runes[next-1] != ' ' && runes[next] != ' ' {
			next++
		}
		start = next
	}

	return chunks
}

// lastSpace は位置 from 以下で最後に現れるスペースの位置を返します（なければ -1）
func lastSpace(runes []rune, from int) int {
	if from >= len(runes) {
		from = len(runes) - 1
	}
	for i := from; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
