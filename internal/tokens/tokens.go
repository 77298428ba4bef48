// Package tokens wraps the tiktoken BPE tokenizer. One encoding (cl100k_base)
// is used for every count and truncation in the system so token budgets
// computed in one place remain valid in another.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// EncodingName is the single tokenizer encoding used throughout the system.
// Section token counts stored at index time and budgets computed at query
// time must agree, so this is not configurable.
const EncodingName = "cl100k_base"

// Codec counts and truncates text in model tokens. Safe for concurrent use.
type Codec struct {
	enc *tiktoken.Tiktoken
}

var loaderOnce sync.Once

// NewCodec loads the cl100k_base encoding from the embedded offline BPE
// ranks, so this does not hit the network.
func NewCodec() (*Codec, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(EncodingName)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", EncodingName, err)
	}
	return &Codec{enc: enc}, nil
}

// Count returns the number of tokens in s.
func (c *Codec) Count(s string) int {
	return len(c.enc.Encode(s, nil, nil))
}

// Truncate cuts s to at most maxTokens tokens, on a token boundary rather
// than a byte or rune boundary.
func (c *Codec) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	toks := c.enc.Encode(s, nil, nil)
	if len(toks) <= maxTokens {
		return s
	}
	return c.enc.Decode(toks[:maxTokens])
}
