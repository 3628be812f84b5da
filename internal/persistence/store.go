// Package persistence holds the durable clone task table. Only tasks that
// have not reached a terminal state live here; a crash or restart rehydrates
// them on startup.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const cloneDBName = "clone.db"

// TaskRow is one persisted clone task. The column names predate this
// implementation and are kept for on-disk compatibility: dest_id holds the
// peer ID and worktree_parent holds the resolved worktree path.
type TaskRow struct {
	RepoID   string
	RepoName string
	Token    string
	PeerID   string
	Worktree string
	Passwd   string // empty means no password; stored as NULL
	PeerAddr string
	PeerPort string
	Email    string
}

// Store is the SQLite-backed clone task table. A single connection
// serializes all access; concurrent managers on the same file are not
// supported.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the clone database path under the given data directory.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, cloneDBName)
}

// Open opens (creating if necessary) the clone task database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// initSchema creates the task table. There is no schema-version ledger;
// future migrations must be additive columns with NULL defaults.
func (s *Store) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS CloneTasks (
			repo_id TEXT PRIMARY KEY,
			repo_name TEXT,
			token TEXT,
			dest_id TEXT,
			worktree_parent TEXT,
			passwd TEXT,
			server_addr TEXT,
			server_port TEXT,
			email TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("create CloneTasks: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using
// exponential backoff with bounded jitter on top of the driver's
// busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

// UpsertTask atomically replaces the row keyed by the task's repo ID.
// The write is durable before this returns.
func (s *Store) UpsertTask(ctx context.Context, row TaskRow) error {
	var passwd sql.NullString
	if row.Passwd != "" {
		passwd = sql.NullString{String: row.Passwd, Valid: true}
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			REPLACE INTO CloneTasks
				(repo_id, repo_name, token, dest_id, worktree_parent,
				 passwd, server_addr, server_port, email)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, row.RepoID, row.RepoName, row.Token, row.PeerID, row.Worktree,
			passwd, row.PeerAddr, row.PeerPort, row.Email)
		if err != nil {
			return fmt.Errorf("upsert clone task %s: %w", row.RepoID, err)
		}
		return nil
	})
}

// DeleteTask removes the row for the given repo ID. Deleting a missing row
// is not an error.
func (s *Store) DeleteTask(ctx context.Context, repoID string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM CloneTasks WHERE repo_id = ?;`, repoID)
		if err != nil {
			return fmt.Errorf("delete clone task %s: %w", repoID, err)
		}
		return nil
	})
}

// ForEachTask iterates all persisted tasks in unspecified order, invoking
// fn exactly once per row. Iteration stops on the first error from fn.
func (s *Store) ForEachTask(ctx context.Context, fn func(TaskRow) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT repo_id, repo_name, token, dest_id, worktree_parent,
		       passwd, server_addr, server_port, email
		FROM CloneTasks;
	`)
	if err != nil {
		return fmt.Errorf("scan clone tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row TaskRow
		var repoName, token, peerID, worktree, passwd, addr, port, email sql.NullString
		if err := rows.Scan(&row.RepoID, &repoName, &token, &peerID, &worktree,
			&passwd, &addr, &port, &email); err != nil {
			return fmt.Errorf("scan clone task row: %w", err)
		}
		row.RepoName = repoName.String
		row.Token = token.String
		row.PeerID = peerID.String
		row.Worktree = worktree.String
		row.Passwd = passwd.String
		row.PeerAddr = addr.String
		row.PeerPort = port.String
		row.Email = email.String
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountTasks returns the number of persisted (non-terminal) tasks.
func (s *Store) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM CloneTasks;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count clone tasks: %w", err)
	}
	return n, nil
}

// Vacuum reclaims free pages. Run from the maintenance scheduler.
func (s *Store) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("vacuum clone db: %w", err)
	}
	return nil
}
