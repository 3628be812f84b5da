// Package audit appends clone task state transitions to a JSONL log.
// Records pass through secret redaction before they reach disk.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/flashing/seafile/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	RepoID    string `json:"repo_id"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu   sync.Mutex
	file *os.File
)

// Init opens (creating if necessary) logs/transitions.jsonl under dataDir.
// Calling Init twice is a no-op.
func Init(dataDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(dataDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "transitions.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Record appends one transition. errName is "ok" unless toState is "error".
// detail may carry a free-form reason; it is redacted before persistence.
func Record(repoID, fromState, toState, errName, detail string) {
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()

	if file == nil {
		return
	}
	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RepoID:    repoID,
		FromState: fromState,
		ToState:   toState,
		Error:     errName,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
