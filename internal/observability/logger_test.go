package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		level string
		want  bool
	}{
		{name: "info level logs info", cfg: Config{Level: "info"}, level: "info", want: true},
		{name: "info level does not log debug", cfg: Config{Level: "info"}, level: "debug", want: false},
		{name: "debug level logs debug", cfg: Config{Level: "debug"}, level: "debug", want: true},
		{name: "error level does not log warn", cfg: Config{Level: "error"}, level: "warn", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.cfg.Output = buf
			logger := NewLogger(tt.cfg)

			switch tt.level {
			case "debug":
				logger.Debug("hello")
			case "info":
				logger.Info("hello")
			case "warn":
				logger.Warn("hello")
			}

			if got := strings.Contains(buf.String(), "hello"); got != tt.want {
				t.Errorf("expected message presence=%v, got=%v, output=%s", tt.want, got, buf.String())
			}
		})
	}
}

func TestLoggerTextFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Level: "info", Format: "text", Output: buf})

	logger.Info("test message", "key", "value")

	if !strings.Contains(buf.String(), "key=value") {
		t.Errorf("expected 'key=value' in output, got: %s", buf.String())
	}
}

func TestLoggerContextFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: buf})

	ctx := WithRequestID(context.Background(), "req-123")
	logger.WarnContext(ctx, "test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["request_id"] != "req-123" {
		t.Errorf("expected request_id='req-123', got=%v", entry["request_id"])
	}
}

func TestLoggerWithComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(Config{Level: "info", Format: "json", Output: buf}).WithComponent("oidc")

	logger.Info("test message")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["component"] != "oidc" {
		t.Errorf("expected component='oidc', got=%v", entry["component"])
	}
}

func TestWithRequestIDEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("HANDBALL_LOG_LEVEL", "debug")
	t.Setenv("HANDBALL_LOG_FORMAT", "text")

	cfg := ConfigFromEnv()
	if cfg.Level != "debug" || cfg.Format != "text" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
