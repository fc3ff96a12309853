// Package logging builds the service's slog loggers. Every logger is wrapped in a
// RedactingHandler so submission secrets and provider keys never reach the output,
// whichever attribute or message they end up in.
package logging

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"strings"
)

// Mask replaces redacted values.
const Mask = "***REDACTED***"

var sensitiveKeys = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
	"x-api-key":     true,
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"api_keys":      true,
	"access_token":  true,
	"secrets_key":   true,
	"sealed_secret": true,
}

var sensitiveFragments = []string{"secret", "password", "api_key", "apikey", "token"}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^bearer\s+.+`),
	regexp.MustCompile(`^AIza[0-9A-Za-z_\-]{30,}$`),
	regexp.MustCompile(`^sk-[A-Za-z0-9_\-]{20,}$`),
	regexp.MustCompile(`^[a-zA-Z0-9]{40,}$`),
}

// RedactingHandler wraps another slog.Handler and masks sensitive attribute
// values before they are handled. Literal values registered through WithLiterals
// are masked wherever they appear, including inside the message.
type RedactingHandler struct {
	handler  slog.Handler
	literals []string
}

func NewRedactingHandler(handler slog.Handler, literals ...string) *RedactingHandler {
	if handler == nil {
		handler = slog.Default().Handler()
	}
	return &RedactingHandler{handler: handler, literals: nonEmpty(literals)}
}

// WithLiterals returns a handler that additionally masks the given literal values.
func (h *RedactingHandler) WithLiterals(literals ...string) *RedactingHandler {
	merged := append(append([]string{}, h.literals...), nonEmpty(literals)...)
	return &RedactingHandler{handler: h.handler, literals: merged}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, h.scrub(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redact(a))
		return true
	})
	return h.handler.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redact(a)
	}
	return &RedactingHandler{handler: h.handler.WithAttrs(clean), literals: h.literals}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{handler: h.handler.WithGroup(name), literals: h.literals}
}

func (h *RedactingHandler) redact(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		clean := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			clean[i] = h.redact(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	}
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, Mask)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.scrubValue(a.Value.String()))
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return slog.String(a.Key, h.scrub(err.Error()))
		}
	}
	return a
}

func (h *RedactingHandler) scrubValue(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(trimmed) {
			return Mask
		}
	}
	return h.scrub(value)
}

func (h *RedactingHandler) scrub(value string) string {
	for _, literal := range h.literals {
		if strings.Contains(value, literal) {
			value = strings.ReplaceAll(value, literal, Mask)
		}
	}
	return value
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if sensitiveKeys[lower] {
		return true
	}
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a redacting logger writing JSON (or text when format is "text").
func New(w io.Writer, level slog.Level, format string, literals ...string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		base = slog.NewTextHandler(w, opts)
	} else {
		base = slog.NewJSONHandler(w, opts)
	}
	return slog.New(NewRedactingHandler(base, literals...))
}

// OrDefault returns logger, or slog.Default when it is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
