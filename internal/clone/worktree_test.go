package clone_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flashing/seafile/internal/repo"
)

func TestGenDefaultWorktreeFreshParent(t *testing.T) {
	e := newEnv(t)
	parent := filepath.Join(e.dir, "parent")

	// Nothing exists: the naive join comes back untouched.
	got := e.mgr.GenDefaultWorktree(parent, "docs")
	if got != filepath.Join(parent, "docs") {
		t.Fatalf("unexpected worktree %q", got)
	}
}

func TestGenDefaultWorktreeExistingNonConflictingDir(t *testing.T) {
	e := newEnv(t)
	parent := filepath.Join(e.dir, "parent")
	if err := os.MkdirAll(filepath.Join(parent, "docs"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// An existing directory that is nobody's worktree is reused as is.
	got := e.mgr.GenDefaultWorktree(parent, "docs")
	if got != filepath.Join(parent, "docs") {
		t.Fatalf("unexpected worktree %q", got)
	}
}

func TestGenDefaultWorktreeSynthesizesSuffix(t *testing.T) {
	e := newEnv(t)
	parent := filepath.Join(e.dir, "parent")
	base := filepath.Join(parent, "docs")

	// "docs" is an existing directory owned by another repo; "docs-1" and
	// "docs-2" are taken on disk. The first free candidate is "docs-3".
	if err := os.MkdirAll(base, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	e.repos.Add(&repo.Repo{ID: strings.Repeat("f", 36), Name: "docs", Worktree: base})
	for _, taken := range []string{base + "-1", base + "-2"} {
		if err := os.MkdirAll(taken, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", taken, err)
		}
	}

	got := e.mgr.GenDefaultWorktree(parent, "docs")
	if got != base+"-3" {
		t.Fatalf("expected %q, got %q", base+"-3", got)
	}
	// Probe mode never creates the directory.
	if _, err := os.Lstat(got); !os.IsNotExist(err) {
		t.Fatalf("probe created the directory: %v", err)
	}
}

func TestAddTaskStripsTrailingSeparators(t *testing.T) {
	e := newEnv(t)
	req := e.request()
	req.Worktree += string(os.PathSeparator)

	if _, err := e.mgr.AddTask(context.Background(), req); err != nil {
		t.Fatalf("add task: %v", err)
	}
	snap := e.mgr.GetTask(testRepoID)
	if strings.HasSuffix(snap.Worktree, string(os.PathSeparator)) {
		t.Fatalf("trailing separator kept: %q", snap.Worktree)
	}
}

func TestAddTaskCreatesWorktreeDirectory(t *testing.T) {
	e := newEnv(t)
	req := e.request()
	req.Worktree = filepath.Join(e.dir, "deep", "nested", "docs")
	req.RepoName = "docs"

	if _, err := e.mgr.AddTask(context.Background(), req); err != nil {
		t.Fatalf("add task: %v", err)
	}
	st, err := os.Stat(req.Worktree)
	if err != nil || !st.IsDir() {
		t.Fatalf("worktree not created: %v", err)
	}
}
