package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig controls logger construction.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is json or text. Empty means json.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
	// AddSource annotates records with file:line of the call site.
	AddSource bool
	// RedactPatterns replaces DefaultRedactPatterns when non-nil.
	RedactPatterns []string
}

// DefaultRedactPatterns match credential shapes that must never reach logs:
// API keys, bearer tokens, JWTs, and long hex secrets.
var DefaultRedactPatterns = []string{
	`sk-ant-[a-zA-Z0-9-_]+`,
	`sk-[a-zA-Z0-9]{20,}`,
	`(?i)bearer\s+[a-zA-Z0-9\-._~+/]+=*`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`\b[a-f0-9]{32,}\b`,
}

// sensitiveKeys are attribute names whose values are redacted outright,
// whatever they contain.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"secret":        true,
	"authorization": true,
	"credential":    true,
}

const redactedValue = "[REDACTED]"

// NewLogger builds a slog.Logger whose records pass through secret
// redaction before reaching the underlying handler.
func NewLogger(cfg LogConfig) (*slog.Logger, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	var inner slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		inner = slog.NewJSONHandler(out, opts)
	case "text":
		inner = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	patterns := cfg.RedactPatterns
	if patterns == nil {
		patterns = DefaultRedactPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	return slog.New(&redactingHandler{next: inner, patterns: compiled}), nil
}

// MustNewLogger is NewLogger for static configuration known to be valid.
func MustNewLogger(cfg LogConfig) *slog.Logger {
	logger, err := NewLogger(cfg)
	if err != nil {
		panic(fmt.Sprintf("observability: invalid log config: %v", err))
	}
	return logger
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// redactingHandler scrubs messages and string attribute values before
// delegating to the wrapped handler. Attributes attached with With are
// scrubbed at attach time so they cannot leak through WithAttrs.
type redactingHandler struct {
	next     slog.Handler
	patterns []*regexp.Regexp
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, h.redact(rec.Message), rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &redactingHandler{next: h.next.WithAttrs(scrubbed), patterns: h.patterns}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), patterns: h.patterns}
}

func (h *redactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redactedValue)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.redact(v.String()))
	case slog.KindGroup:
		members := v.Group()
		scrubbed := make([]any, 0, len(members))
		for _, m := range members {
			scrubbed = append(scrubbed, h.redactAttr(m))
		}
		return slog.Group(a.Key, scrubbed...)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return slog.String(a.Key, h.redact(err.Error()))
		}
		return a
	default:
		return a
	}
}

func (h *redactingHandler) redact(s string) string {
	for _, re := range h.patterns {
		s = re.ReplaceAllString(s, redactedValue)
	}
	return s
}
