package clone

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flashing/seafile/internal/audit"
	"github.com/flashing/seafile/internal/bus"
	otelx "github.com/flashing/seafile/internal/otel"
	"github.com/flashing/seafile/internal/persistence"
	"github.com/flashing/seafile/internal/repo"
	"github.com/flashing/seafile/internal/shared"
)

const (
	// defaultCheckInterval is the connectivity pulse period.
	defaultCheckInterval = 5 * time.Second

	// fetchHeadName and fetchBranch are the ref names requested from the
	// transfer engine for a clone download.
	fetchHeadName = "fetch_head"
	fetchBranch   = "master"
)

// Config holds the collaborators the manager is constructed with.
type Config struct {
	Store    *persistence.Store
	Bus      *bus.Bus
	Repos    repo.Store
	Commits  repo.CommitStore
	Branches repo.BranchStore
	Indexes  repo.IndexStore
	Merger   repo.TreeMerger
	Indexer  repo.Indexer
	Checkout repo.CheckoutEngine
	Transfer repo.TransferEngine
	Peers    repo.PeerClient

	Logger  *slog.Logger
	Metrics *otelx.Metrics

	// CheckInterval overrides the connectivity pulse period; defaults to 5s.
	CheckInterval time.Duration
}

// AddTaskRequest carries the admission parameters for one clone.
type AddTaskRequest struct {
	RepoID   string
	PeerID   string
	RepoName string
	Token    string
	Passwd   string
	Worktree string
	PeerAddr string
	PeerPort string
	Email    string
}

// Manager owns the clone task table and drives every task through its
// lifecycle. All state transitions, task-map mutations, and store writes
// happen under mu; workers only ever receive copies of task data and report
// back through the bus, consumed by a single dispatcher goroutine.
type Manager struct {
	cfg cfgBundle
	log *slog.Logger

	mu    sync.Mutex
	tasks map[string]*Task

	sub    *bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// cfgBundle is Config after defaulting.
type cfgBundle struct {
	Config
	checkInterval time.Duration
}

// NewManager creates a manager and subscribes it to clone completion
// events. Call Init to rehydrate persisted tasks, then Start.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("clone manager: nil task store")
	case cfg.Bus == nil:
		return nil, fmt.Errorf("clone manager: nil bus")
	case cfg.Repos == nil:
		return nil, fmt.Errorf("clone manager: nil repo store")
	case cfg.Transfer == nil:
		return nil, fmt.Errorf("clone manager: nil transfer engine")
	case cfg.Peers == nil:
		return nil, fmt.Errorf("clone manager: nil peer client")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	m := &Manager{
		cfg:   cfgBundle{Config: cfg, checkInterval: interval},
		log:   logger.With("component", "clone-mgr"),
		tasks: make(map[string]*Task),
	}
	// Subscribe before any job can publish so completions are buffered
	// until the dispatcher starts.
	m.sub = cfg.Bus.Subscribe("clone.")
	return m, nil
}

// Init scans the durable table and rehydrates every row into a live task,
// classifying each against the current repository state. Jobs scheduled
// here publish completions that the dispatcher consumes once Start runs.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Collect the rows first: the store has a single connection, and a
	// restart that reaches a terminal state deletes its row.
	var rows []persistence.TaskRow
	if err := m.cfg.Store.ForEachTask(ctx, func(row persistence.TaskRow) error {
		rows = append(rows, row)
		return nil
	}); err != nil {
		return err
	}
	for _, row := range rows {
		m.restartTask(ctx, row)
	}
	return nil
}

// restartTask rehydrates one persisted row. Callers hold m.mu.
func (m *Manager) restartTask(ctx context.Context, row persistence.TaskRow) {
	t := &Task{
		RepoID:   row.RepoID,
		PeerID:   row.PeerID,
		RepoName: row.RepoName,
		Token:    row.Token,
		Passwd:   row.Passwd,
		Worktree: row.Worktree,
		PeerAddr: row.PeerAddr,
		PeerPort: row.PeerPort,
		Email:    row.Email,
		traceID:  shared.NewTraceID(),
	}
	if mtr := m.cfg.Metrics; mtr != nil {
		mtr.ActiveTasks.Add(ctx, 1)
	}

	r := m.cfg.Repos.Get(t.RepoID)
	switch {
	case r.HasHead():
		// The repo exists and its head is set: the clone finished before
		// the crash. Prune the row but keep the task visible in memory.
		m.transition(ctx, t, StateDone)
		m.tasks[t.RepoID] = t
	case r != nil:
		// Repo was fetched but never checked out.
		m.tasks[t.RepoID] = t
		m.startMaterialize(ctx, r, t)
	default:
		// Repo was not created last time; restart from the beginning.
		if !m.peerConnected(t) {
			m.startConnect(ctx, t)
		} else {
			m.startIndexOrTransfer(ctx, t)
		}
		m.tasks[t.RepoID] = t
	}
}

// Start launches the completion dispatcher and the connectivity pulse.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.dispatchLoop(ctx)
	go m.connectPulse(ctx)
	m.log.Info("clone manager started", "check_interval", m.cfg.checkInterval)
}

// Stop cancels the background goroutines and waits for in-flight workers.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.cfg.Bus.Unsubscribe(m.sub)
	m.log.Info("clone manager stopped")
}

// runJob runs fn on a worker goroutine tracked by the manager's WaitGroup.
func (m *Manager) runJob(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// ---- transitions ----

// transition moves a task to newState. Transitions into a terminal state
// delete the durable row first; the in-memory record stays until removal.
// Callers hold m.mu.
func (m *Manager) transition(ctx context.Context, t *Task, newState State) {
	old := t.state
	m.log.Info("transition clone state",
		"repo_id", shortID(t.RepoID),
		"from", old.String(),
		"to", newState.String(),
		"trace_id", t.traceID,
	)

	if newState.Terminal() {
		if err := m.cfg.Store.DeleteTask(ctx, t.RepoID); err != nil {
			// Not retried; the terminal state still holds in memory.
			m.log.Error("failed to delete clone task row", "repo_id", shortID(t.RepoID), "error", err)
		}
	}

	t.state = newState
	m.recordTransition(ctx, t, old, ErrOK, "")
}

// transitionError moves a task into StateError with the given kind.
// Callers hold m.mu.
func (m *Manager) transitionError(ctx context.Context, t *Task, kind ErrKind) {
	old := t.state
	m.log.Warn("transition clone state to error",
		"repo_id", shortID(t.RepoID),
		"from", old.String(),
		"error", kind.String(),
		"trace_id", t.traceID,
	)

	if err := m.cfg.Store.DeleteTask(ctx, t.RepoID); err != nil {
		m.log.Error("failed to delete clone task row", "repo_id", shortID(t.RepoID), "error", err)
	}

	t.state = StateError
	t.errKind = kind
	m.recordTransition(ctx, t, old, kind, "")
}

func (m *Manager) recordTransition(ctx context.Context, t *Task, old State, kind ErrKind, detail string) {
	audit.Record(t.RepoID, old.String(), t.state.String(), kind.String(), detail)
	m.cfg.Bus.Publish(bus.TopicCloneStateChanged, bus.StateChangedEvent{
		RepoID:   t.RepoID,
		OldState: old.String(),
		NewState: t.state.String(),
		Error:    kind.String(),
	})
	if mtr := m.cfg.Metrics; mtr != nil {
		mtr.Transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("to", t.state.String()),
		))
		if t.state.Terminal() {
			mtr.ActiveTasks.Add(ctx, -1)
			mtr.TerminalOutcomes.Add(ctx, 1, metric.WithAttributes(
				attribute.String("outcome", t.state.String()),
				attribute.String("error", kind.String()),
			))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ---- admission ----

// AddTask admits a new clone. The row is durable before any collaborator is
// invoked; a persistence failure aborts admission.
func (m *Manager) AddTask(ctx context.Context, req AddTaskRequest) (string, error) {
	if len(req.RepoID) != RepoIDLen {
		return "", fmt.Errorf("repo id must be %d characters, got %d", RepoIDLen, len(req.RepoID))
	}
	if len(req.PeerID) != PeerIDLen {
		return "", fmt.Errorf("peer id must be %d characters, got %d", PeerIDLen, len(req.PeerID))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.cfg.Repos.Get(req.RepoID)
	if r.HasHead() {
		return "", ErrRepoExists
	}
	if t, ok := m.tasks[req.RepoID]; ok && !t.state.Terminal() {
		return "", ErrTaskExists
	}
	if !worktreeNameMatches(req.Worktree, req.RepoName) {
		return "", ErrInvalidDirName
	}

	worktree, err := m.makeWorktree(req.Worktree, false)
	if err != nil {
		return "", err
	}

	t := &Task{
		RepoID:   req.RepoID,
		PeerID:   req.PeerID,
		RepoName: req.RepoName,
		Token:    req.Token,
		Passwd:   req.Passwd,
		Worktree: worktree,
		PeerAddr: req.PeerAddr,
		PeerPort: req.PeerPort,
		Email:    req.Email,
		traceID:  shared.NewTraceID(),
	}

	if err := m.cfg.Store.UpsertTask(ctx, persistence.TaskRow{
		RepoID:   t.RepoID,
		RepoName: t.RepoName,
		Token:    t.Token,
		PeerID:   t.PeerID,
		Worktree: t.Worktree,
		Passwd:   t.Passwd,
		PeerAddr: t.PeerAddr,
		PeerPort: t.PeerPort,
		Email:    t.Email,
	}); err != nil {
		m.log.Warn("failed to save clone task", "repo_id", shortID(t.RepoID), "error", err)
		return "", fmt.Errorf("persist clone task: %w", err)
	}

	if mtr := m.cfg.Metrics; mtr != nil {
		mtr.TasksAdmitted.Add(ctx, 1)
		mtr.ActiveTasks.Add(ctx, 1)
	}

	switch {
	case r != nil:
		// Repo was downloaded before but never checked out; the user can
		// clone it again to retry materialization.
		m.startMaterialize(ctx, r, t)
	case !m.peerConnected(t):
		m.startConnect(ctx, t)
	default:
		m.startIndexOrTransfer(ctx, t)
	}

	// Replaces any previous terminal task for this repo.
	m.tasks[t.RepoID] = t

	return t.RepoID, nil
}

// CancelTask requests cancellation. Cancellation is a request, not a kill:
// in-flight index/checkout/merge jobs run to completion; the dispatcher
// collapses a successful outcome to canceled, while a failed job still
// ends the task in error.
func (m *Manager) CancelTask(ctx context.Context, repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[repoID]
	if !ok {
		return ErrNotFound
	}

	switch t.state {
	case StateInit, StateConnect:
		m.transition(ctx, t, StateCanceled)
	case StateFetch:
		if err := m.cfg.Transfer.CancelDownload(t.transferID); err != nil {
			m.log.Warn("failed to forward cancel to transfer engine",
				"repo_id", shortID(repoID), "error", err)
		}
		m.transition(ctx, t, StateCancelPending)
	case StateIndex, StateCheckout, StateMerge:
		// The running job cannot be interrupted; wait for it to finish.
		m.transition(ctx, t, StateCancelPending)
	case StateCancelPending:
		// Idempotent.
	default:
		m.log.Warn("cannot cancel a not-running clone task",
			"repo_id", shortID(repoID), "state", t.state.String())
		return ErrTaskNotCancelable
	}
	return nil
}

// RemoveTask discards a terminal task from memory. Removing an unknown
// task is a no-op; removing a non-terminal task is rejected.
func (m *Manager) RemoveTask(repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[repoID]
	if !ok {
		return nil
	}
	if !t.state.Terminal() {
		m.log.Warn("cannot remove running clone task", "repo_id", shortID(repoID))
		return ErrTaskRunning
	}

	if t.transferID != "" {
		if err := m.cfg.Transfer.RemoveDownload(t.transferID); err != nil {
			m.log.Warn("failed to remove finished transfer",
				"repo_id", shortID(repoID), "error", err)
		}
	}

	// The on-disk row was already removed at the terminal transition.
	delete(m.tasks, repoID)
	return nil
}

// GetTask returns a snapshot of the task, or nil if unknown.
func (m *Manager) GetTask(repoID string) *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[repoID]
	if !ok {
		return nil
	}
	s := t.snapshot()
	return &s
}

// ListTasks returns snapshots of all in-memory tasks.
func (m *Manager) ListTasks() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snapshot())
	}
	return out
}

// ---- dispatch paths ----

// peerConnected queries the peer layer for the task's relay.
func (m *Manager) peerConnected(t *Task) bool {
	p := m.cfg.Peers.GetPeer(t.PeerID)
	return p != nil && p.Connected
}

// startConnect enters StateConnect, issuing the relay-add command when the
// peer layer does not know the relay yet. Callers hold m.mu.
func (m *Manager) startConnect(ctx context.Context, t *Task) {
	if m.cfg.Peers.GetPeer(t.PeerID) == nil {
		m.log.Info("add relay before clone",
			"repo_id", shortID(t.RepoID),
			"addr", t.PeerAddr, "port", t.PeerPort)
		cmd := fmt.Sprintf("add-relay --id %s --addr %s:%s", t.PeerID, t.PeerAddr, t.PeerPort)
		if err := m.cfg.Peers.SendCommand(ctx, cmd); err != nil {
			m.log.Warn("failed to send add-relay command",
				"repo_id", shortID(t.RepoID), "error", err)
		}
	}
	// A known peer is already being connected; just wait for the pulse.
	m.transition(ctx, t, StateConnect)
}

// startIndexOrTransfer branches on worktree emptiness: a non-empty target
// is indexed first so the fetched head can later be merged with it; an
// empty target goes straight to transfer. Callers hold m.mu.
func (m *Manager) startIndexOrTransfer(ctx context.Context, t *Task) {
	if isNonEmptyDir(t.Worktree) {
		m.transition(ctx, t, StateIndex)
		m.scheduleIndexJob(t)
		return
	}

	if err := m.addTransfer(ctx, t); err != nil {
		m.transitionError(ctx, t, ErrFetch)
		return
	}
	m.transition(ctx, t, StateFetch)
}

// addTransfer enqueues the clone download. Callers hold m.mu.
func (m *Manager) addTransfer(ctx context.Context, t *Task) error {
	txID, err := m.cfg.Transfer.AddDownload(ctx, t.RepoID, t.PeerID,
		fetchHeadName, fetchBranch, t.Token)
	if err != nil {
		return fmt.Errorf("add download for %s: %w", shortID(t.RepoID), err)
	}
	t.transferID = txID
	return nil
}

// scheduleIndexJob runs the worktree indexer on a worker. The worker only
// sees copies of the task's fields and reports back through the bus.
func (m *Manager) scheduleIndexJob(t *Task) {
	repoID, worktree, passwd := t.RepoID, t.Worktree, t.Passwd
	m.runJob(func() {
		start := time.Now()
		rootID, err := m.cfg.Indexer.IndexWorktree(context.Background(), repoID, worktree, passwd)
		if mtr := m.cfg.Metrics; mtr != nil {
			mtr.IndexDuration.Record(context.Background(), time.Since(start).Seconds())
		}
		if err != nil {
			m.log.Warn("worktree index job failed", "repo_id", shortID(repoID), "error", err)
		}
		m.cfg.Bus.Publish(bus.TopicIndexDone, bus.IndexDoneEvent{
			RepoID:  repoID,
			RootID:  rootID,
			Success: err == nil,
		})
	})
}

// startMaterialize is the checkout-vs-merge decision, entered after a
// successful fetch and at restart when the repo exists without a head.
// Encrypted repositories have their password verified and installed first.
// Callers hold m.mu.
func (m *Manager) startMaterialize(ctx context.Context, r *repo.Repo, t *Task) {
	if r.Encrypted && t.Passwd != "" {
		if r.EncVersion >= 1 {
			if err := m.cfg.Repos.VerifyPassword(r, t.Passwd); err != nil {
				m.log.Warn("incorrect repo password", "repo_id", shortID(t.RepoID))
				m.transitionError(ctx, t, ErrPassword)
				return
			}
		}
		if err := m.cfg.Repos.SetPassword(r, t.Passwd); err != nil {
			m.log.Warn("failed to set repo password", "repo_id", shortID(t.RepoID), "error", err)
			m.transitionError(ctx, t, ErrInternal)
			return
		}
	} else if r.Encrypted {
		m.log.Warn("password is empty for encrypted repo", "repo_id", shortID(t.RepoID))
		m.transitionError(ctx, t, ErrPassword)
		return
	}

	if !isNonEmptyDir(t.Worktree) {
		m.transition(ctx, t, StateCheckout)
		if err := m.cfg.Checkout.StartCheckout(r, t.Worktree); err != nil {
			m.log.Warn("failed to start checkout", "repo_id", shortID(t.RepoID), "error", err)
			m.transitionError(ctx, t, ErrCheckout)
		}
		return
	}

	m.transition(ctx, t, StateMerge)
	m.scheduleMergeJob(r, t)
}
