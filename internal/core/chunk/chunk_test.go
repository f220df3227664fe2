package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a b c", Normalize("  a\n\tb   c \r\n"))
	assert.Equal(t, "", Normalize(" \n\t "))
}

func TestSplit_ShortTextIsSingleChunk(t *testing.T) {
	chunks := Split("hello   world\n", 500, 50)

	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Content: "hello world", Ordinal: 0, CharCount: 11}, chunks[0])
}

func TestSplit_EmptyInput(t *testing.T) {
	chunks := Split("   \n  ", 500, 50)

	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{Content: "", Ordinal: 0, CharCount: 0}, chunks[0])
}

func TestSplit_SpaceDelimited1200Chars(t *testing.T) {
	text := strings.Repeat("abcd ", 240) // 1200文字、正規化後1199文字
	normalized := Normalize(text)

	chunks := Split(text, 500, 50)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.LessOrEqual(t, c.CharCount, 500)
		assert.True(t, strings.HasPrefix(c.Content, "abcd"))
		assert.True(t, strings.HasSuffix(c.Content, "abcd"))
	}
	// 2番目以降は直前チャンクの末尾50文字以内の単語境界から始まる
	assert.Equal(t, normalized[0:499], chunks[0].Content)
	assert.Equal(t, normalized[450:949], chunks[1].Content)
	assert.Equal(t, normalized[900:1199], chunks[2].Content)
}

func TestSplit_RecoversWordsInOrder(t *testing.T) {
	var words []string
	for i := 0; i < 400; i++ {
		words = append(words, strings.Repeat(string(rune('a'+i%26)), 1+i%9))
	}
	text := strings.Join(words, "  \n")

	chunks := Split(text, 120, 30)
	require.Greater(t, len(chunks), 1)

	// オーバーラップ分を除き、元の単語列が順序通り復元できる
	var recovered []string
	for _, c := range chunks {
		cw := strings.Fields(c.Content)
		skip := 0
		for k := min(len(recovered), len(cw)); k > 0; k-- {
			if equalWords(recovered[len(recovered)-k:], cw[:k]) {
				skip = k
				break
			}
		}
		recovered = append(recovered, cw[skip:]...)
	}
	assert.Equal(t, words, recovered)
}

func TestSplit_OverlapNotSmallerThanMaxSizeTerminates(t *testing.T) {
	text := strings.Repeat("word ", 100)

	tests := []struct {
		name    string
		overlap int
	}{
		{"overlap equals max size", 20},
		{"overlap exceeds max size", 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(text, 20, tt.overlap)

			require.NotEmpty(t, chunks)
			for _, c := range chunks {
				assert.NotEmpty(t, c.Content)
				assert.LessOrEqual(t, c.CharCount, 20)
			}
			assert.True(t, strings.HasSuffix(chunks[len(chunks)-1].Content, "word"))
		})
	}
}

func TestSplit_HardCutWithoutSpaces(t *testing.T) {
	text := strings.Repeat("x", 1000)

	chunks := Split(text, 400, 0)

	require.Len(t, chunks, 3)
	assert.Equal(t, 400, chunks[0].CharCount)
	assert.Equal(t, 400, chunks[1].CharCount)
	assert.Equal(t, 200, chunks[2].CharCount)
}

func TestSplit_CountsRunes(t *testing.T) {
	text := strings.Repeat("知识库 ", 10) // 40ルーン

	chunks := Split(text, 15, 4)

	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.CharCount, 15)
		assert.Equal(t, len([]rune(c.Content)), c.CharCount)
	}
}

func TestSplit_InvalidArgumentsFallBack(t *testing.T) {
	text := strings.Repeat("a ", 400)

	assert.Equal(t, Split(text, DefaultMaxSize, 0), Split(text, 0, -5))
}

func equalWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
