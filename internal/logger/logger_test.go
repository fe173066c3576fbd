package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q)=%s, want %s", raw, got, want)
		}
	}
}

func TestNewWriterFiltersAndEncodesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(Config{Level: "warn"}, &buf)
	log.Info("hidden")
	log.Warn("convert audio frame failed", zap.String("stream_id", "a1"))
	_ = log.Sync()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["msg"] != "convert audio frame failed" || entry["stream_id"] != "a1" {
		t.Fatalf("entry=%v", entry)
	}
	if entry["logger"] != "audiosync" {
		t.Fatalf("logger=%v, want audiosync", entry["logger"])
	}
}

func TestFileSinkCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := New(Config{File: FileConfig{Enabled: true, Path: dir}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	log.Info("hello")
	_ = log.Sync()

	if _, err := os.Stat(filepath.Join(dir, "audiosync.log")); err != nil {
		t.Fatalf("log file missing: %v", err)
	}
}
