package summarize

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const encodingName = "cl100k_base"

// Tokenizer counts and truncates text in model tokens. Without an encoder
// it estimates four bytes per token.
type Tokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the cl100k_base encoding, falling back to the byte
// estimate when it cannot be loaded.
func NewTokenizer(logger *zap.Logger) *Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Warn("tiktoken encoding unavailable, estimating tokens from length",
			zap.String("encoding", encodingName),
			zap.Error(err))
		return &Tokenizer{}
	}
	return &Tokenizer{enc: enc}
}

// ApproxTokenizer returns a Tokenizer that always uses the byte estimate.
func ApproxTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Count returns the token count of text.
func (t *Tokenizer) Count(text string) int {
	if t.enc == nil {
		return len(text) / 4
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate returns the longest prefix of text that fits in n tokens.
func (t *Tokenizer) Truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if t.Count(text) <= n {
		return text
	}
	if t.enc == nil {
		// Count(text) > n implies len(text) > 4n+3.
		cut := 4*n + 3
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut]
	}

	t.mu.Lock()
	tokens := t.enc.Encode(text, nil, nil)
	t.mu.Unlock()
	// Decoding a prefix can re-encode to more tokens at the boundary.
	for k := n; k > 0; k-- {
		out := t.decode(tokens[:k])
		if t.Count(out) <= n {
			return out
		}
	}
	return ""
}

func (t *Tokenizer) decode(tokens []int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enc.Decode(tokens)
}
