package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding は OpenAI 系チャットモデルのエンコーディング
const DefaultEncoding = "cl100k_base"

// Counter はトークン数をカウントする機能を提供する
type Counter struct {
	encoding *tiktoken.Tiktoken
}

// NewCounter は cl100k_base エンコーディングの Counter を作成する
func NewCounter() (*Counter, error) {
	return NewCounterWithEncoding(DefaultEncoding)
}

// NewCounterWithEncoding はエンコーディング名を指定して Counter を作成する
func NewCounterWithEncoding(name string) (*Counter, error) {
	encoding, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &Counter{encoding: encoding}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (c *Counter) CountTokens(text string) int {
	if c == nil || c.encoding == nil {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}
