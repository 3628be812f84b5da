package clone

import (
	"context"

	"github.com/flashing/seafile/internal/bus"
)

// dispatchLoop is the single sink for collaborator completions. Events for
// one task are consumed in publish order; each handler takes the manager
// lock, so completions never race admission, cancellation, or the pulse.
func (m *Manager) dispatchLoop(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.sub.Ch():
			if !ok {
				return
			}
			switch payload := ev.Payload.(type) {
			case bus.TransferDoneEvent:
				m.handleTransferDone(ctx, payload)
			case bus.IndexDoneEvent:
				m.handleIndexDone(ctx, payload)
			case bus.CheckoutDoneEvent:
				m.handleCheckoutDone(ctx, payload)
			case bus.MergeDoneEvent:
				m.handleMergeDone(ctx, payload)
			}
		}
	}
}

// lookupForEvent resolves the owning task of a completion event. A missing
// task is an invariant violation: log and drop.
func (m *Manager) lookupForEvent(repoID, event string) *Task {
	t, ok := m.tasks[repoID]
	if !ok {
		m.log.Error("completion event for unknown clone task",
			"repo_id", shortID(repoID), "event", event)
		return nil
	}
	return t
}

func (m *Manager) handleIndexDone(ctx context.Context, ev bus.IndexDoneEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.lookupForEvent(ev.RepoID, "index_done")
	if t == nil {
		return
	}

	if !ev.Success {
		m.transitionError(ctx, t, ErrIndex)
		return
	}
	t.rootID = ev.RootID

	if t.state == StateCancelPending {
		m.transition(ctx, t, StateCanceled)
		return
	}

	if err := m.addTransfer(ctx, t); err != nil {
		m.transitionError(ctx, t, ErrFetch)
		return
	}
	m.transition(ctx, t, StateFetch)
}

func (m *Manager) handleTransferDone(ctx context.Context, ev bus.TransferDoneEvent) {
	// Only clone transfers are ours; plain fetches belong to the sync loop.
	if !ev.IsClone {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.lookupForEvent(ev.RepoID, "transfer_done")
	if t == nil {
		return
	}

	switch ev.State {
	case bus.TransferCanceled:
		m.transition(ctx, t, StateCanceled)
		return
	case bus.TransferError:
		m.transitionError(ctx, t, ErrFetch)
		return
	}

	// A canceled transfer normally reports CANCELED; if the download won
	// the race and finished anyway, the task still may not proceed.
	if t.state == StateCancelPending {
		m.transition(ctx, t, StateCanceled)
		return
	}

	r := m.cfg.Repos.Get(ev.RepoID)
	if r == nil {
		m.log.Warn("cannot find repo after fetch", "repo_id", shortID(ev.RepoID))
		m.transitionError(ctx, t, ErrInternal)
		return
	}

	// Stamp the sync identity onto the repository record before
	// materialization.
	if err := m.cfg.Repos.SetToken(r, t.Token); err != nil {
		m.log.Warn("failed to set repo token", "repo_id", shortID(ev.RepoID), "error", err)
	}
	if err := m.cfg.Repos.SetEmail(r, t.Email); err != nil {
		m.log.Warn("failed to set repo email", "repo_id", shortID(ev.RepoID), "error", err)
	}
	if err := m.cfg.Repos.SetRelayInfo(r.ID, t.PeerAddr, t.PeerPort); err != nil {
		m.log.Warn("failed to set repo relay info", "repo_id", shortID(ev.RepoID), "error", err)
	}

	m.startMaterialize(ctx, r, t)
}

func (m *Manager) handleCheckoutDone(ctx context.Context, ev bus.CheckoutDoneEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.lookupForEvent(ev.RepoID, "checkout_done")
	if t == nil {
		return
	}

	if !ev.Success {
		m.transitionError(ctx, t, ErrCheckout)
		return
	}

	switch t.state {
	case StateCancelPending:
		m.transition(ctx, t, StateCanceled)
	case StateCheckout:
		m.transition(ctx, t, StateDone)
	default:
		m.log.Error("checkout completion in unexpected state",
			"repo_id", shortID(ev.RepoID), "state", t.state.String())
	}
}

func (m *Manager) handleMergeDone(ctx context.Context, ev bus.MergeDoneEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.lookupForEvent(ev.RepoID, "merge_done")
	if t == nil {
		return
	}

	if !ev.Success {
		m.transitionError(ctx, t, ErrMerge)
		return
	}

	// The worktree binding is valid whether or not the task was canceled
	// mid-merge.
	if r := m.cfg.Repos.Get(ev.RepoID); r != nil {
		if err := m.cfg.Repos.SetWorktree(r, t.Worktree); err != nil {
			m.log.Warn("failed to set repo worktree", "repo_id", shortID(ev.RepoID), "error", err)
		}
	}

	switch t.state {
	case StateCancelPending:
		m.transition(ctx, t, StateCanceled)
	case StateMerge:
		m.transition(ctx, t, StateDone)
	default:
		m.log.Error("merge completion in unexpected state",
			"repo_id", shortID(ev.RepoID), "state", t.state.String())
	}
}
