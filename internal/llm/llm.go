package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ModelBinder hands out providers bound to a specific model. Tier catalogues
// use it to build one provider per tier.
type ModelBinder interface {
	WithModel(model string) Provider
}

type Config struct {
	APIKeys     []string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MaxRetries  int
	RetryBase   time.Duration
	Temperature float64
	MaxTokens   int64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewProvider returns a Client for cfg, or an OfflineProvider when no API key is
// configured so callers fall back to their non-LLM paths.
func NewProvider(cfg Config) Provider {
	if len(cleanKeys(cfg.APIKeys)) == 0 {
		return OfflineProvider{}
	}
	return NewClient(cfg)
}

// OfflineProvider fails every call with ErrNoAPIKeys.
type OfflineProvider struct{}

func (OfflineProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	return "", ErrNoAPIKeys
}

func (p OfflineProvider) WithModel(string) Provider {
	return p
}

func cleanKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			out = append(out, key)
		}
	}
	return out
}

// JSONObject returns the span from the first '{' to the last '}' of a reply,
// which is where models put the JSON they were asked for.
func JSONObject(reply string) (string, bool) {
	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return reply[start : end+1], true
}
