package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "pricewatch.log")
	logger, closeFn, err := NewLogger(Config{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info().Str("component", "test").Msg("hello file")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello file"`) {
		t.Fatalf("log line missing: %s", data)
	}
}

func TestNewLoggerLevelFallback(t *testing.T) {
	logger, _, err := NewLogger(Config{Level: "not-a-level"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.GetLevel().String() != "info" {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}
