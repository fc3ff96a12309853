package solve

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// Tokenizer counts and trims prompt text by model tokens. The encoding is
// loaded on first use; when it cannot be loaded, four bytes count as a token.
type Tokenizer struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	load   func() (*tiktoken.Tiktoken, error)
	logger *slog.Logger
}

func NewTokenizer(logger *slog.Logger) *Tokenizer {
	return &Tokenizer{
		load:   func() (*tiktoken.Tiktoken, error) { return tiktoken.GetEncoding(tokenEncoding) },
		logger: logger,
	}
}

func (t *Tokenizer) encoding() *tiktoken.Tiktoken {
	if t == nil {
		return nil
	}
	t.once.Do(func() {
		if t.load == nil {
			return
		}
		enc, err := t.load()
		if err != nil {
			if t.logger != nil {
				t.logger.Warn("token encoding unavailable, approximating", "encoding", tokenEncoding, "error", err)
			}
			return
		}
		t.enc = enc
	})
	return t.enc
}

func (t *Tokenizer) Count(s string) int {
	if enc := t.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return (len(s) + 3) / 4
}

// Truncate returns the longest prefix of s that fits in limit tokens.
func (t *Tokenizer) Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if enc := t.encoding(); enc != nil {
		tokens := enc.Encode(s, nil, nil)
		if len(tokens) <= limit {
			return s
		}
		return enc.Decode(tokens[:limit])
	}
	maxBytes := limit * 4
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
