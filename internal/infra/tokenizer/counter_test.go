package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounter_CountTokens(t *testing.T) {
	counter, err := NewCounter()
	if err != nil {
		// BPEファイルの取得にネットワークが必要
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	assert.Equal(t, 0, counter.CountTokens(""))
	assert.Equal(t, 2, counter.CountTokens("hello world"))
	assert.Greater(t, counter.CountTokens("你是一个专业的知识库问答助手"), 0)
}

func TestCounter_NilSafe(t *testing.T) {
	var counter *Counter
	assert.Equal(t, 0, counter.CountTokens("anything"))
}
