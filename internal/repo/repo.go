// Package repo defines the collaborator contracts the clone manager
// depends on: the repository/commit/branch stores, the worktree indexer,
// the checkout engine, the tree mergers, the transfer engine, and the
// peer layer. Production wiring injects real implementations; tests
// inject fakes.
package repo

import "context"

// EmptyTreeID is the root of the empty tree, used as the common ancestor
// for the three-way merge of a freshly cloned repository.
const EmptyTreeID = "0000000000000000000000000000000000000000"

// Repo is a repository record shared with the repository manager.
type Repo struct {
	ID       string
	Name     string
	HeadID   string // head commit ID; empty until checkout/merge completes
	Worktree string

	Encrypted  bool
	EncVersion int
	EncKey     []byte
	EncIV      []byte
}

// HasHead reports whether the repository head has been set, i.e. the
// working copy is live.
func (r *Repo) HasHead() bool {
	return r != nil && r.HeadID != ""
}

// Commit is a commit record from the commit store.
type Commit struct {
	ID          string
	RootID      string
	CreatorName string
	ParentID    string
	ParentID2   string
}

// Branch is a branch record from the branch store.
type Branch struct {
	Name     string
	RepoID   string
	CommitID string
}

// Crypt carries the decryption parameters for an encrypted repository.
type Crypt struct {
	Version int
	Key     []byte
	IV      []byte
}

// NewCrypt builds a crypto context from the repository's encryption metadata.
func NewCrypt(r *Repo) *Crypt {
	if r == nil || !r.Encrypted {
		return nil
	}
	return &Crypt{Version: r.EncVersion, Key: r.EncKey, IV: r.EncIV}
}

// Store is the repository record store.
type Store interface {
	// Get returns the repository record, or nil if unknown.
	Get(repoID string) *Repo
	// SetHead points the repository head at the given branch's commit and
	// marks the working copy live.
	SetHead(r *Repo, b *Branch, head *Commit) error
	// SetWorktree binds the repository to its on-disk worktree.
	SetWorktree(r *Repo, worktree string) error
	SetToken(r *Repo, token string) error
	SetEmail(r *Repo, email string) error
	SetRelayInfo(repoID, addr, port string) error
	// VerifyPassword checks the password against the repository's
	// encryption metadata. Only called when the metadata is verifiable
	// (encryption version >= 1).
	VerifyPassword(r *Repo, password string) error
	// SetPassword installs the password in the repository record for use
	// by checkout and merge.
	SetPassword(r *Repo, password string) error
	// Worktrees returns the worktree paths of all known repositories.
	Worktrees() []string
}

// CommitStore loads commits and walks commit ancestry.
type CommitStore interface {
	Get(commitID string) (*Commit, error)
	// Traverse walks the ancestry of head, invoking fn for each commit.
	// Traversal stops when fn returns false.
	Traverse(head string, fn func(c *Commit) bool) error
}

// BranchStore loads branch records.
type BranchStore interface {
	Get(repoID, name string) (*Branch, error)
}

// Index is an opaque handle to a persisted path-to-object index snapshot.
// The mergers read and replace it; the clone manager never inspects it.
type Index interface{}

// IndexStore loads the persisted index for a repository.
type IndexStore interface {
	Load(repoID string) (Index, error)
}

// MergeOptions parameterizes a recursive three-way merge.
type MergeOptions struct {
	AncestorRoot string
	LocalRoot    string
	RemoteRoot   string
	RemoteHead   string // remote head commit ID
	Worktree     string
	LocalLabel   string // label for the local side in conflict markers
	RemoteLabel  string // label for the remote side
	ForceMerge   bool
	Crypt        *Crypt
}

// TreeMerger materializes tree content into a worktree.
type TreeMerger interface {
	// TwoWayUnpack describes the {localRoot, remoteRoot} trees and unpacks
	// them into the worktree with the update and merge flags set. The index
	// is replaced by the unpack result.
	TwoWayUnpack(ctx context.Context, ix Index, localRoot, remoteRoot, worktree string, crypt *Crypt) error
	// RecursiveMerge runs a three-way merge and materializes the result,
	// conflicts included, into the worktree. Index and commits are not
	// updated; a later auto-commit cycle reconciles them.
	RecursiveMerge(ctx context.Context, ix Index, opts MergeOptions) error
}

// Indexer computes the root tree of an existing worktree. Runs on a worker.
type Indexer interface {
	IndexWorktree(ctx context.Context, repoID, worktree, password string) (rootID string, err error)
}

// CheckoutEngine materializes a repository into an empty worktree.
// Completion is reported as a CheckoutDoneEvent on the bus; on success the
// engine has already set the repository head.
type CheckoutEngine interface {
	StartCheckout(r *Repo, worktree string) error
}

// TransferEngine downloads repository objects from a peer.
// Completion is reported as a TransferDoneEvent on the bus.
type TransferEngine interface {
	// AddDownload starts a clone download and returns its transfer handle.
	AddDownload(ctx context.Context, repoID, peerID, fetchHead, branch, token string) (string, error)
	// CancelDownload requests cancellation of an in-flight download.
	CancelDownload(transferID string) error
	// RemoveDownload discards the bookkeeping for a finished download.
	RemoveDownload(transferID string) error
}

// Peer is a peer record from the connectivity layer.
type Peer struct {
	ID        string
	Connected bool
}

// PeerClient is the peer-to-peer connectivity layer. Peers are added
// through the text command channel of the network daemon.
type PeerClient interface {
	// GetPeer returns the peer record, or nil if the peer is unknown.
	GetPeer(peerID string) *Peer
	// SendCommand issues a text command, e.g.
	// "add-relay --id <peer> --addr <host>:<port>".
	SendCommand(ctx context.Context, cmd string) error
}
