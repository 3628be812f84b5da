package audit_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flashing/seafile/internal/audit"
)

func TestRecordWritesRedactedJSONL(t *testing.T) {
	dir := t.TempDir()
	if err := audit.Init(dir); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer audit.Close()

	audit.Record("repo-1", "fetch", "error", "fetch", "transfer failed: token=deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	audit.Record("repo-1", "init", "connect", "ok", "")

	if err := audit.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "logs", "transitions.jsonl"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if strings.Contains(lines[0], "deadbeef") {
		t.Fatalf("token leaked into audit log: %s", lines[0])
	}
	if !strings.Contains(lines[0], "[REDACTED]") {
		t.Fatalf("expected redaction marker: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"to_state":"connect"`) {
		t.Fatalf("missing transition fields: %s", lines[1])
	}
}

func TestRecordWithoutInitIsNoop(t *testing.T) {
	// Must not panic or create files.
	audit.Record("repo-1", "init", "fetch", "ok", "")
}
