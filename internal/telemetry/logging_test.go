package telemetry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flashing/seafile/internal/telemetry"
)

func TestNewLoggerRedactsSensitiveAttrs(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := telemetry.NewLogger(dir, "info", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("clone admitted",
		"repo_id", "abc123",
		"token", "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		"passwd", "hunter22",
	)
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "deadbeef") || strings.Contains(out, "hunter22") {
		t.Fatalf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected redaction marker in log: %s", out)
	}
	if !strings.Contains(out, `"repo_id":"abc123"`) {
		t.Fatalf("expected repo_id attr in log: %s", out)
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, closer, err := telemetry.NewLogger(dir, "warn", true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "system.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record not filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %s", out)
	}
}
