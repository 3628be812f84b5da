package clone

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// Admission errors surfaced to callers.
var (
	ErrRepoExists        = errors.New("repo already exists")
	ErrTaskExists        = errors.New("task is already in progress")
	ErrInvalidDirName    = errors.New("invalid local directory name")
	ErrInvalidWorktree   = errors.New("invalid local directory")
	ErrAlreadyInSync     = errors.New("already in sync")
	ErrNotFound          = errors.New("task not found")
	ErrTaskRunning       = errors.New("task is running")
	ErrTaskNotCancelable = errors.New("task cannot be canceled")
)

// tryWorktreeMax bounds the "-1", "-2", ... probe loop.
const tryWorktreeMax = math.MaxUint32

func trimTrailingSeparators(path string) string {
	return strings.TrimRight(path, "/\\")
}

// isNonEmptyDir reports whether path is a directory with at least one entry.
// A missing or unreadable path counts as empty.
func isNonEmptyDir(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// tryWorktree appends "-1", "-2", ... to the candidate until it finds a
// path that does not exist. Returns "" if the cap is exhausted.
func tryWorktree(worktree string) string {
	for cnt := uint64(1); cnt < tryWorktreeMax; cnt++ {
		tmp := fmt.Sprintf("%s-%d", worktree, cnt)
		if _, err := os.Lstat(tmp); errors.Is(err, fs.ErrNotExist) {
			return tmp
		}
	}
	return ""
}

// conflictsWithExisting reports whether path equals the worktree of a known
// repository or of a non-terminal task. Callers hold m.mu.
func (m *Manager) conflictsWithExisting(path string) bool {
	for _, wt := range m.cfg.Repos.Worktrees() {
		if wt == path {
			return true
		}
	}
	for _, t := range m.tasks {
		if t.state.Terminal() {
			continue
		}
		if t.Worktree == path {
			return true
		}
	}
	return false
}

// makeWorktree validates and resolves a candidate worktree path. In dry-run
// (probe) mode it may synthesize a conflict-free alternative and never
// touches the filesystem; in commit mode a conflict or a non-directory
// existing path is an error and the resolved directory is created, parents
// included. Callers hold m.mu.
func (m *Manager) makeWorktree(worktree string, dryRun bool) (string, error) {
	wt := trimTrailingSeparators(worktree)

	ret := ""
	st, err := os.Lstat(wt)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		ret = wt
	case err != nil || !st.IsDir():
		if !dryRun {
			return "", ErrInvalidWorktree
		}
		ret = tryWorktree(wt)
	default:
		// wt is an existing directory; check whether it is the worktree of
		// another repo or task.
		if !m.conflictsWithExisting(wt) {
			return wt, nil
		}
		if !dryRun {
			return "", ErrAlreadyInSync
		}
		ret = tryWorktree(wt)
	}

	if ret == "" {
		return "", ErrInvalidWorktree
	}
	if !dryRun {
		if err := os.MkdirAll(ret, 0o777); err != nil {
			m.log.Warn("failed to create worktree directory", "path", ret, "error", err)
			return "", fmt.Errorf("create worktree %s: %w", ret, err)
		}
	}
	return ret, nil
}

// GenDefaultWorktree produces a conflict-free path under worktreeParent that
// can be passed to AddTask. It never fails: if probing cannot produce an
// alternative, the naive join is returned.
func (m *Manager) GenDefaultWorktree(worktreeParent, repoName string) string {
	wt := filepath.Join(worktreeParent, repoName)

	m.mu.Lock()
	defer m.mu.Unlock()

	resolved, err := m.makeWorktree(wt, true)
	if err != nil || resolved == "" {
		return wt
	}
	return resolved
}

// worktreeNameMatches is a weak integrity check: the basename of the target
// directory must begin with the repository name, guarding against clones
// into an accidentally wrong directory.
func worktreeNameMatches(worktree, repoName string) bool {
	base := filepath.Base(trimTrailingSeparators(worktree))
	return strings.HasPrefix(base, repoName)
}
