// Package clonetest provides in-memory fakes of the clone manager's
// collaborators for use in tests.
package clonetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/flashing/seafile/internal/bus"
	"github.com/flashing/seafile/internal/repo"
)

// RepoStore is an in-memory repo.Store.
type RepoStore struct {
	mu        sync.Mutex
	Repos     map[string]*repo.Repo
	VerifyErr error
	SetPwdErr error
	Passwords map[string]string
}

func NewRepoStore() *RepoStore {
	return &RepoStore{
		Repos:     make(map[string]*repo.Repo),
		Passwords: make(map[string]string),
	}
}

func (s *RepoStore) Add(r *repo.Repo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Repos[r.ID] = r
}

func (s *RepoStore) Get(repoID string) *repo.Repo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Repos[repoID]
}

func (s *RepoStore) SetHead(r *repo.Repo, _ *repo.Branch, head *repo.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.HeadID = head.ID
	return nil
}

func (s *RepoStore) SetWorktree(r *repo.Repo, worktree string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Worktree = worktree
	return nil
}

func (s *RepoStore) SetToken(_ *repo.Repo, _ string) error { return nil }
func (s *RepoStore) SetEmail(_ *repo.Repo, _ string) error { return nil }

func (s *RepoStore) SetRelayInfo(_, _, _ string) error { return nil }

func (s *RepoStore) VerifyPassword(_ *repo.Repo, _ string) error {
	return s.VerifyErr
}

func (s *RepoStore) SetPassword(r *repo.Repo, password string) error {
	if s.SetPwdErr != nil {
		return s.SetPwdErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Passwords[r.ID] = password
	return nil
}

func (s *RepoStore) Worktrees() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.Repos {
		if r.Worktree != "" {
			out = append(out, r.Worktree)
		}
	}
	return out
}

// Download records one AddDownload call.
type Download struct {
	ID        string
	RepoID    string
	PeerID    string
	FetchHead string
	Branch    string
	Token     string
}

// Transfer is a fake repo.TransferEngine. When AutoSucceed is set,
// AddDownload immediately publishes a successful clone completion.
type Transfer struct {
	mu          sync.Mutex
	Bus         *bus.Bus
	AddErr      error
	AutoSucceed bool
	// OnSuccess, when set, runs before a successful completion is
	// published; tests use it to create the fetched repository.
	OnSuccess func(repoID string)
	Started   []Download
	Canceled  []string
	Removed   []string
}

func (t *Transfer) AddDownload(_ context.Context, repoID, peerID, fetchHead, branch, token string) (string, error) {
	if t.AddErr != nil {
		return "", t.AddErr
	}
	dl := Download{
		ID:        uuid.NewString(),
		RepoID:    repoID,
		PeerID:    peerID,
		FetchHead: fetchHead,
		Branch:    branch,
		Token:     token,
	}
	t.mu.Lock()
	t.Started = append(t.Started, dl)
	auto := t.AutoSucceed
	t.mu.Unlock()

	if auto {
		if t.OnSuccess != nil {
			t.OnSuccess(repoID)
		}
		t.Bus.Publish(bus.TopicTransferDone, bus.TransferDoneEvent{
			TransferID: dl.ID,
			RepoID:     repoID,
			State:      bus.TransferSuccess,
			IsClone:    true,
		})
	}
	return dl.ID, nil
}

func (t *Transfer) CancelDownload(transferID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Canceled = append(t.Canceled, transferID)
	return nil
}

func (t *Transfer) RemoveDownload(transferID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Removed = append(t.Removed, transferID)
	return nil
}

// CancelCount returns how many cancels were forwarded.
func (t *Transfer) CancelCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Canceled)
}

// Complete publishes a terminal transfer event for the given repo.
func (t *Transfer) Complete(repoID string, state bus.TransferState) {
	t.mu.Lock()
	var txID string
	for _, dl := range t.Started {
		if dl.RepoID == repoID {
			txID = dl.ID
		}
	}
	t.mu.Unlock()
	if state == bus.TransferSuccess && t.OnSuccess != nil {
		t.OnSuccess(repoID)
	}
	t.Bus.Publish(bus.TopicTransferDone, bus.TransferDoneEvent{
		TransferID: txID,
		RepoID:     repoID,
		State:      state,
		IsClone:    true,
	})
}

// Peers is a fake repo.PeerClient.
type Peers struct {
	mu       sync.Mutex
	Known    map[string]*repo.Peer
	Commands []string
}

func NewPeers() *Peers {
	return &Peers{Known: make(map[string]*repo.Peer)}
}

func (p *Peers) SetPeer(peerID string, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Known[peerID] = &repo.Peer{ID: peerID, Connected: connected}
}

func (p *Peers) GetPeer(peerID string) *repo.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Known[peerID]
}

func (p *Peers) SendCommand(_ context.Context, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Commands = append(p.Commands, cmd)
	return nil
}

func (p *Peers) CommandCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Commands)
}

// Indexer is a fake repo.Indexer returning a fixed root.
type Indexer struct {
	mu     sync.Mutex
	RootID string
	Err    error
	calls  int
}

func (ix *Indexer) IndexWorktree(_ context.Context, _, _, _ string) (string, error) {
	ix.mu.Lock()
	ix.calls++
	ix.mu.Unlock()
	if ix.Err != nil {
		return "", ix.Err
	}
	return ix.RootID, nil
}

func (ix *Indexer) Calls() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.calls
}

// Checkout is a fake repo.CheckoutEngine. When AutoSucceed is set, starting
// a checkout immediately publishes a successful completion.
type Checkout struct {
	mu          sync.Mutex
	Bus         *bus.Bus
	StartErr    error
	AutoSucceed bool
	Started     []string
}

func (c *Checkout) StartCheckout(r *repo.Repo, _ string) error {
	if c.StartErr != nil {
		return c.StartErr
	}
	c.mu.Lock()
	c.Started = append(c.Started, r.ID)
	auto := c.AutoSucceed
	c.mu.Unlock()

	if auto {
		c.Bus.Publish(bus.TopicCheckoutDone, bus.CheckoutDoneEvent{RepoID: r.ID, Success: true})
	}
	return nil
}

// Complete publishes a checkout completion.
func (c *Checkout) Complete(repoID string, success bool) {
	c.Bus.Publish(bus.TopicCheckoutDone, bus.CheckoutDoneEvent{RepoID: repoID, Success: success})
}

func (c *Checkout) StartedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Started)
}

// Commits is a fake repo.CommitStore backed by a map. Traverse follows
// first-parent links.
type Commits struct {
	mu      sync.Mutex
	Commits map[string]*repo.Commit
}

func NewCommits() *Commits {
	return &Commits{Commits: make(map[string]*repo.Commit)}
}

func (c *Commits) Add(commit *repo.Commit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Commits[commit.ID] = commit
}

func (c *Commits) Get(commitID string) (*repo.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	commit, ok := c.Commits[commitID]
	if !ok {
		return nil, fmt.Errorf("commit %s not found", commitID)
	}
	return commit, nil
}

func (c *Commits) Traverse(head string, fn func(*repo.Commit) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := head; id != ""; {
		commit, ok := c.Commits[id]
		if !ok {
			return fmt.Errorf("commit %s not found", id)
		}
		if !fn(commit) {
			return nil
		}
		id = commit.ParentID
	}
	return nil
}

// Branches is a fake repo.BranchStore.
type Branches struct {
	mu       sync.Mutex
	Branches map[string]*repo.Branch
}

func NewBranches() *Branches {
	return &Branches{Branches: make(map[string]*repo.Branch)}
}

func (b *Branches) Set(branch *repo.Branch) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Branches[branch.RepoID+"/"+branch.Name] = branch
}

func (b *Branches) Get(repoID, name string) (*repo.Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	branch, ok := b.Branches[repoID+"/"+name]
	if !ok {
		return nil, errors.New("branch not found")
	}
	return branch, nil
}

// Indexes is a fake repo.IndexStore handing out opaque handles.
type Indexes struct {
	LoadErr error
}

func (ix *Indexes) Load(repoID string) (repo.Index, error) {
	if ix.LoadErr != nil {
		return nil, ix.LoadErr
	}
	return struct{ RepoID string }{repoID}, nil
}

// Merger is a fake repo.TreeMerger recording calls. When Gate is set, both
// operations block until it is closed, letting tests cancel mid-merge.
type Merger struct {
	mu             sync.Mutex
	Gate           chan struct{}
	TwoWayErr      error
	RecursiveErr   error
	TwoWayCalls    int
	RecursiveCalls int
	LastOpts       repo.MergeOptions
}

func (m *Merger) wait() {
	if m.Gate != nil {
		<-m.Gate
	}
}

func (m *Merger) TwoWayUnpack(_ context.Context, _ repo.Index, _, _, _ string, _ *repo.Crypt) error {
	m.wait()
	m.mu.Lock()
	m.TwoWayCalls++
	m.mu.Unlock()
	return m.TwoWayErr
}

func (m *Merger) RecursiveMerge(_ context.Context, _ repo.Index, opts repo.MergeOptions) error {
	m.wait()
	m.mu.Lock()
	m.RecursiveCalls++
	m.LastOpts = opts
	m.mu.Unlock()
	return m.RecursiveErr
}

func (m *Merger) Counts() (twoWay, recursive int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.TwoWayCalls, m.RecursiveCalls
}

func (m *Merger) LastMergeOpts() repo.MergeOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastOpts
}
