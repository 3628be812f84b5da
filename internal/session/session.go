// Package session is the composition root for the daemon: it bundles the
// collaborator handles the clone manager is constructed with. The full
// client attaches its repository store, transfer engine, checkout and
// merge machinery, and peer layer here before the manager starts; anything
// left unattached reports itself instead of panicking.
package session

import (
	"context"
	"errors"

	"github.com/flashing/seafile/internal/repo"
)

// ErrEngineNotAttached is returned by every operation on a collaborator
// slot that was never attached.
var ErrEngineNotAttached = errors.New("engine not attached to session")

// Session carries the collaborator handles. Attach the real
// implementations before constructing the clone manager; every slot
// defaults to a stand-in that fails loudly.
type Session struct {
	Repos    repo.Store
	Commits  repo.CommitStore
	Branches repo.BranchStore
	Indexes  repo.IndexStore
	Merger   repo.TreeMerger
	Indexer  repo.Indexer
	Checkout repo.CheckoutEngine
	Transfer repo.TransferEngine
	Peers    repo.PeerClient
}

// New returns a session with every slot populated by a detached stand-in.
func New() *Session {
	return &Session{
		Repos:    detachedRepoStore{},
		Commits:  detached{},
		Branches: detachedBranches{},
		Indexes:  detached{},
		Merger:   detached{},
		Indexer:  detached{},
		Checkout: detached{},
		Transfer: detached{},
		Peers:    detachedPeers{},
	}
}

// detached satisfies the collaborator interfaces by failing every call.
type detached struct{}

func (detached) Get(string) (*repo.Commit, error)               { return nil, ErrEngineNotAttached }
func (detached) Traverse(string, func(*repo.Commit) bool) error { return ErrEngineNotAttached }
func (detached) Load(string) (repo.Index, error)                { return nil, ErrEngineNotAttached }
func (detached) StartCheckout(*repo.Repo, string) error         { return ErrEngineNotAttached }
func (detached) CancelDownload(string) error                    { return ErrEngineNotAttached }
func (detached) RemoveDownload(string) error                    { return ErrEngineNotAttached }

func (detached) IndexWorktree(context.Context, string, string, string) (string, error) {
	return "", ErrEngineNotAttached
}

func (detached) AddDownload(context.Context, string, string, string, string, string) (string, error) {
	return "", ErrEngineNotAttached
}

func (detached) TwoWayUnpack(context.Context, repo.Index, string, string, string, *repo.Crypt) error {
	return ErrEngineNotAttached
}

func (detached) RecursiveMerge(context.Context, repo.Index, repo.MergeOptions) error {
	return ErrEngineNotAttached
}

// The branch store's Get clashes with the commit store's on signature, so
// detached cannot satisfy both; wrap it.
type detachedBranches struct{}

func (detachedBranches) Get(string, string) (*repo.Branch, error) { return nil, ErrEngineNotAttached }

// detachedRepoStore knows no repositories.
type detachedRepoStore struct{}

func (detachedRepoStore) Get(string) *repo.Repo { return nil }

func (detachedRepoStore) SetHead(*repo.Repo, *repo.Branch, *repo.Commit) error {
	return ErrEngineNotAttached
}

func (detachedRepoStore) SetWorktree(*repo.Repo, string) error      { return ErrEngineNotAttached }
func (detachedRepoStore) SetToken(*repo.Repo, string) error         { return ErrEngineNotAttached }
func (detachedRepoStore) SetEmail(*repo.Repo, string) error         { return ErrEngineNotAttached }
func (detachedRepoStore) SetRelayInfo(string, string, string) error { return ErrEngineNotAttached }
func (detachedRepoStore) VerifyPassword(*repo.Repo, string) error   { return ErrEngineNotAttached }
func (detachedRepoStore) SetPassword(*repo.Repo, string) error      { return ErrEngineNotAttached }
func (detachedRepoStore) Worktrees() []string                       { return nil }

// detachedPeers reports every peer as unknown.
type detachedPeers struct{}

func (detachedPeers) GetPeer(string) *repo.Peer                 { return nil }
func (detachedPeers) SendCommand(context.Context, string) error { return ErrEngineNotAttached }
