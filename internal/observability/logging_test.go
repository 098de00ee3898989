package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerRedactsSecrets(t *testing.T) {
	cases := []struct {
		name   string
		msg    string
		secret string
	}{
		{"anthropic key", "got key sk-ant-abc123def456 from env", "sk-ant-abc123def456"},
		{"openai key", "key sk-abcdefghijklmnopqrstuv rejected", "sk-abcdefghijklmnopqrstuv"},
		{"bearer token", "header Bearer abc.def.ghi set", "Bearer abc.def.ghi"},
		{"jwt", "token eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl expired", "eyJhbGciOi.eyJzdWIiOi.c2lnbmF0dXJl"},
		{"hex secret", "value 0123456789abcdef0123456789abcdef leaked", "0123456789abcdef0123456789abcdef"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(LogConfig{Output: &buf})
			if err != nil {
				t.Fatalf("NewLogger: %v", err)
			}

			logger.Info(tc.msg)

			out := buf.String()
			if strings.Contains(out, tc.secret) {
				t.Errorf("secret %q leaked into log output: %s", tc.secret, out)
			}
			if !strings.Contains(out, redactedValue) {
				t.Errorf("expected %s marker in output: %s", redactedValue, out)
			}
		})
	}
}

func TestNewLoggerRedactsAttrValues(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("provider request failed",
		"detail", "auth with sk-ant-secret123 failed",
		"error", errors.New("invalid key sk-ant-secret123"),
	)

	out := buf.String()
	if strings.Contains(out, "sk-ant-secret123") {
		t.Errorf("secret leaked through attributes: %s", out)
	}
}

func TestNewLoggerRedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("config loaded", "api_key", "plaintext-value", "Password", "hunter2")

	out := buf.String()
	for _, leaked := range []string{"plaintext-value", "hunter2"} {
		if strings.Contains(out, leaked) {
			t.Errorf("sensitive key value %q leaked: %s", leaked, out)
		}
	}
}

// Attributes attached with With are scrubbed at attach time.
func TestNewLoggerRedactsWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.With("token", "sk-ant-persistent").Info("step started")

	if out := buf.String(); strings.Contains(out, "sk-ant-persistent") {
		t.Errorf("secret leaked through With: %s", out)
	}
}

func TestNewLoggerGroupedAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("request", slog.Group("auth", "header", "Bearer abc123token"))

	out := buf.String()
	if strings.Contains(out, "abc123token") {
		t.Errorf("secret leaked inside group: %s", out)
	}
	if !strings.Contains(out, "auth") {
		t.Errorf("group name missing from output: %s", out)
	}
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	if strings.Contains(out, "quiet") {
		t.Errorf("info record passed a warn-level logger: %s", out)
	}
	if !strings.Contains(out, "loud") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestNewLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hello", "run_id", "r1")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "run_id=r1") {
		t.Errorf("unexpected text output: %s", out)
	}
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	if _, err := NewLogger(LogConfig{Format: "yaml"}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := NewLogger(LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewLogger(LogConfig{RedactPatterns: []string{"["}}); err == nil {
		t.Error("expected error for invalid redact pattern")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level string")
	}
}
