package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("warn", &buf)
	ctx := context.Background()

	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, "warn")
	logger.Error(ctx, "error")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "warn" || entries[1]["level"] != "error" {
		t.Errorf("unexpected levels: %v, %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_WithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf).With(CallMeta{ID: "users", Fingerprint: "fp-1"}.Fields()...)

	logger.Info(context.Background(), "hit", F("duration_ms", 1.5))

	entry := decodeLines(t, &buf)[0]
	if entry["cache.id"] != "users" {
		t.Errorf("cache.id = %v, want users", entry["cache.id"])
	}
	if entry["cache.fingerprint"] != "fp-1" {
		t.Errorf("cache.fingerprint = %v, want fp-1", entry["cache.fingerprint"])
	}
	if entry["duration_ms"] != 1.5 {
		t.Errorf("duration_ms = %v, want 1.5", entry["duration_ms"])
	}
	if _, ok := entry["timestamp"].(string); !ok {
		t.Error("expected timestamp")
	}
}

func TestLogger_RedactsArgsAndValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Info(context.Background(), "compute", F("args", `{"password":"x"}`), F("value", "secret-data"), F("id", "ok"))

	entry := decodeLines(t, &buf)[0]
	if entry["args"] != "[REDACTED]" || entry["value"] != "[REDACTED]" {
		t.Errorf("expected args and value to be redacted, got %v / %v", entry["args"], entry["value"])
	}
	if entry["id"] != "ok" {
		t.Errorf("id = %v, want ok", entry["id"])
	}
}

func TestLogger_ErrorsRenderAsStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter("info", &buf)

	logger.Error(context.Background(), "failed", F("error", errors.New("boom")))

	entry := decodeLines(t, &buf)[0]
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"debug", "info", "warn", "error"} {
		if got := ParseLogLevel(s).String(); got != s {
			t.Errorf("ParseLogLevel(%q).String() = %q", s, got)
		}
	}
	if ParseLogLevel("verbose") != LevelInfo {
		t.Error("unknown level should map to info")
	}
}
