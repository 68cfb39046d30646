package agent

import (
	"github.com/cuemby/quorum/pkg/store"
	"github.com/cuemby/quorum/pkg/types"
)

// TransResult reports the outcome of a transact call: the write result plus
// the highest log index produced, which callers pass to WaitFor.
type TransResult struct {
	Accepted bool
	Indices  []uint64
	MaxIndex uint64
}

// Interface is the agency surface consumed by the supervision layer and the
// constituent. It is deliberately small so job unit tests can replace it
// with a double that asserts the exact transaction payload.
type Interface interface {
	// Write submits a transaction batch to the replicated log. Accepted
	// means the leader appended the batch; commit is observable through
	// WaitFor. Followers reject.
	Write(txs []store.Transaction) store.WriteResult

	// Transact submits a batch and reports the highest produced index.
	Transact(txs []store.Transaction) TransResult

	// WaitFor blocks until the given log index has committed.
	WaitFor(index uint64) types.CommitStatus

	// Snapshot returns a consistent point-in-time copy of the committed
	// tree.
	Snapshot() *store.Node

	// Config returns the agent's cluster configuration.
	Config() *types.Config

	// LastLog identifies the last entry of the replicated log.
	LastLog() types.LogInfo

	// Lead rebuilds the leader-only views. Invoked by the constituent on
	// transition to leader.
	Lead()

	// Ready reports whether the agent has restored its state and can
	// take part in elections.
	Ready() bool
}

// RoleSource is the slice of the constituent the agent needs: the current
// term for log entries and whether this node leads. Kept minimal to avoid
// a dependency cycle between the agent and the constituent.
type RoleSource interface {
	Term() uint64
	Leading() bool
}
