package compaction

import (
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token length of text.
type TokenCounter interface {
	CountTokens(text string) int
}

// ApproximateTokens estimates tokens at four characters per token.
func ApproximateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// approximateCounter is the TokenCounter used when no encoding is available.
type approximateCounter struct{}

func (approximateCounter) CountTokens(text string) int {
	return ApproximateTokens(text)
}

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads encoding (for example "cl100k_base"). Loading may
// need network access the first time; callers should fall back to
// ApproximateTokens on error.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultTokenEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens returns the exact token count of text.
func (t *TiktokenCounter) CountTokens(text string) int {
	if t == nil || t.enc == nil {
		return ApproximateTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
