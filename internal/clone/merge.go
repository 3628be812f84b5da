package clone

import (
	"context"
	"fmt"
	"time"

	"github.com/flashing/seafile/internal/bus"
	"github.com/flashing/seafile/internal/repo"
)

// scheduleMergeJob runs the merge on a worker goroutine. The worker only
// reads the copies captured here; it never touches the task map or task
// state. Completion is reported as a MergeDoneEvent.
func (m *Manager) scheduleMergeJob(r *repo.Repo, t *Task) {
	in := mergeInput{
		repo:     r,
		repoID:   t.RepoID,
		worktree: t.Worktree,
		passwd:   t.Passwd,
		rootID:   t.rootID,
		email:    t.Email,
	}
	m.runJob(func() {
		start := time.Now()
		err := m.runMerge(context.Background(), in)
		if mtr := m.cfg.Metrics; mtr != nil {
			mtr.MergeDuration.Record(context.Background(), time.Since(start).Seconds())
		}
		if err != nil {
			m.log.Warn("merge job failed", "repo_id", shortID(in.repoID), "error", err)
		}
		m.cfg.Bus.Publish(bus.TopicMergeDone, bus.MergeDoneEvent{
			RepoID:  in.repoID,
			Success: err == nil,
		})
	})
}

type mergeInput struct {
	repo     *repo.Repo
	repoID   string
	worktree string
	passwd   string
	rootID   string
	email    string
}

// runMerge reconciles the fetched head with the pre-existing worktree
// contents, then sets the repository head to mark the clone materialized.
func (m *Manager) runMerge(ctx context.Context, in mergeInput) error {
	rootID := in.rootID
	// The worktree was never indexed when the task skipped StateIndex
	// (restart into materialization); index it now.
	if rootID == "" {
		computed, err := m.cfg.Indexer.IndexWorktree(ctx, in.repoID, in.worktree, in.passwd)
		if err != nil {
			return fmt.Errorf("index worktree: %w", err)
		}
		rootID = computed
	}

	local, err := m.cfg.Branches.Get(in.repoID, "local")
	if err != nil || local == nil {
		return fmt.Errorf("load local branch: %w", err)
	}
	head, err := m.cfg.Commits.Get(local.CommitID)
	if err != nil || head == nil {
		return fmt.Errorf("load head commit %s: %w", local.CommitID, err)
	}

	ff, err := m.checkFastForward(head, rootID)
	if err != nil {
		return fmt.Errorf("fast-forward check: %w", err)
	}

	crypt := repo.NewCrypt(in.repo)
	if ff {
		m.log.Debug("fast forward", "repo_id", shortID(in.repoID))
		if err := m.fastForwardUpdate(ctx, in, head, rootID, crypt); err != nil {
			return err
		}
	} else {
		if err := m.realMerge(ctx, in, head, rootID, crypt); err != nil {
			return err
		}
	}

	// Set repo head to mark checkout done.
	if err := m.cfg.Repos.SetHead(in.repo, local, head); err != nil {
		return fmt.Errorf("set repo head: %w", err)
	}
	return nil
}

// checkFastForward walks the remote head's ancestry; the merge is
// fast-forward iff some ancestor's root tree equals the worktree's indexed
// root. Traversal halts on the first match.
func (m *Manager) checkFastForward(head *repo.Commit, rootID string) (bool, error) {
	found := false
	err := m.cfg.Commits.Traverse(head.ID, func(c *repo.Commit) bool {
		if c.RootID == rootID {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// fastForwardUpdate applies the remote tree on top of the already-indexed
// local tree with a two-way unpack. A head that already matches the local
// root is a no-op.
func (m *Manager) fastForwardUpdate(ctx context.Context, in mergeInput, head *repo.Commit, rootID string, crypt *repo.Crypt) error {
	if head.RootID == rootID {
		return nil
	}

	ix, err := m.cfg.Indexes.Load(in.repoID)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	if err := m.cfg.Merger.TwoWayUnpack(ctx, ix, rootID, head.RootID, in.worktree, crypt); err != nil {
		return fmt.Errorf("unpack trees for %s: %w", head.ID, err)
	}
	return nil
}

// realMerge merges the fetched branch with the current worktree contents
// using the empty tree as the common ancestor. Only the worktree is
// updated; the next auto-commit cycle reconciles index and commits.
func (m *Manager) realMerge(ctx context.Context, in mergeInput, head *repo.Commit, rootID string, crypt *repo.Crypt) error {
	ix, err := m.cfg.Indexes.Load(in.repoID)
	if err != nil {
		return fmt.Errorf("load index: %w", err)
	}

	opts := repo.MergeOptions{
		AncestorRoot: repo.EmptyTreeID,
		LocalRoot:    rootID,
		RemoteRoot:   head.RootID,
		RemoteHead:   head.ID,
		Worktree:     in.worktree,
		LocalLabel:   in.email,
		RemoteLabel:  head.CreatorName,
		ForceMerge:   true,
		Crypt:        crypt,
	}
	if err := m.cfg.Merger.RecursiveMerge(ctx, ix, opts); err != nil {
		return fmt.Errorf("recursive merge: %w", err)
	}
	return nil
}
