package bus

// Clone lifecycle topics. All completion events for a clone task are
// published under the "clone." prefix so the manager can consume them
// through a single subscription, in publish order.
const (
	TopicCloneStateChanged = "clone.state_changed"
	TopicTransferDone      = "clone.transfer_done"
	TopicIndexDone         = "clone.index_done"
	TopicCheckoutDone      = "clone.checkout_done"
	TopicMergeDone         = "clone.merge_done"
)

// TransferState is the terminal state reported by the transfer engine.
type TransferState string

const (
	TransferSuccess  TransferState = "SUCCESS"
	TransferCanceled TransferState = "CANCELED"
	TransferError    TransferState = "ERROR"
)

// StateChangedEvent is published on every clone task state transition.
type StateChangedEvent struct {
	RepoID   string // repository ID
	OldState string // previous state name (e.g. "init")
	NewState string // new state name (e.g. "fetch")
	Error    string // error kind name, "ok" unless NewState is "error"
}

// TransferDoneEvent is published by the transfer engine when a download
// reaches a terminal state. IsClone distinguishes clone transfers from
// plain fetches; the clone manager ignores the latter.
type TransferDoneEvent struct {
	TransferID string
	RepoID     string
	State      TransferState
	IsClone    bool
}

// IndexDoneEvent is published when a worktree indexing job finishes.
// RootID is the computed root tree of the pre-existing worktree.
type IndexDoneEvent struct {
	RepoID  string
	RootID  string
	Success bool
}

// CheckoutDoneEvent is published when a checkout task finishes.
// On success the checkout engine has already set the repository head.
type CheckoutDoneEvent struct {
	RepoID  string
	Success bool
}

// MergeDoneEvent is published when a merge job finishes.
type MergeDoneEvent struct {
	RepoID  string
	Success bool
}
