package agent

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/storage"
	"github.com/cuemby/quorum/pkg/store"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/rs/zerolog"
)

// snapshotEvery is the number of applied entries between persisted tree
// snapshots.
const snapshotEvery = 1000

// commitTimeout bounds WaitFor.
const commitTimeout = 10 * time.Second

// Agent is the in-process implementation of Interface. It owns the
// spearhead (the write view transactions are applied to) and the read view
// (the committed tree jobs plan against). With log replication below the
// election layer treated abstractly, entries commit as they are applied on
// the leader.
type Agent struct {
	mu      sync.Mutex
	commitC *sync.Cond

	config *types.Config
	roles  RoleSource
	store  storage.Store
	logger zerolog.Logger

	spearhead *store.Engine
	readDB    *store.Node
	logEnd    types.LogInfo
	commit    uint64
	lastSnap  uint64
	ready     bool
}

// New creates an agent over its durable store. Call Restore before use and
// SetRoleSource once the constituent exists.
func New(cfg *types.Config, st storage.Store) *Agent {
	a := &Agent{
		config:    cfg,
		store:     st,
		logger:    log.WithComponent("agent"),
		spearhead: store.NewEngine(),
		readDB:    store.NewNode(),
	}
	a.commitC = sync.NewCond(&a.mu)
	return a
}

// SetRoleSource wires the constituent in after construction.
func (a *Agent) SetRoleSource(r RoleSource) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.roles = r
}

// Restore loads the newest persisted snapshot and seeds both views.
func (a *Agent) Restore() error {
	index, tree, err := a.store.LatestSnapshot()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if tree != nil {
		root, err := store.NewNodeFromJSON(tree)
		if err != nil {
			return err
		}
		a.readDB = root
		a.spearhead = store.NewEngineFromNode(root.Clone(), index)
		a.logEnd = types.LogInfo{Index: index}
		a.commit = index
		a.lastSnap = index
		a.logger.Info().Uint64("index", index).Msg("Restored tree from snapshot")
	}

	a.ready = true
	a.commitC.Broadcast()
	return nil
}

// Ready reports whether Restore has completed.
func (a *Agent) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Config returns the agent's cluster configuration.
func (a *Agent) Config() *types.Config {
	return a.config
}

// LastLog identifies the last appended entry.
func (a *Agent) LastLog() types.LogInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.logEnd
}

// roleSource fetches the wired constituent. The role methods themselves
// are called without holding our lock.
func (a *Agent) roleSource() RoleSource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.roles
}

// leading reports whether writes may be accepted here.
func (a *Agent) leading() bool {
	roles := a.roleSource()
	if roles == nil {
		// Single-node agents may run without a constituent in tests.
		return a.config.Size == 1
	}
	return roles.Leading()
}

func (a *Agent) term() uint64 {
	roles := a.roleSource()
	if roles == nil {
		return 0
	}
	return roles.Term()
}

// Write submits a transaction batch. Only the leader accepts.
func (a *Agent) Write(txs []store.Transaction) store.WriteResult {
	// Consult the role source before taking our lock, so our lock is never
	// held while the constituent's lock is acquired.
	leading := a.leading()
	term := a.term()

	a.mu.Lock()
	defer a.mu.Unlock()

	if !leading {
		metrics.TransactionsTotal.WithLabelValues("rejected_not_leader").Inc()
		return store.WriteResult{Accepted: false, Indices: make([]uint64, len(txs))}
	}

	res := a.spearhead.Apply(txs)
	for _, idx := range res.Indices {
		if idx == 0 {
			metrics.TransactionsTotal.WithLabelValues("precondition_failed").Inc()
			continue
		}
		metrics.TransactionsTotal.WithLabelValues("applied").Inc()
		a.logEnd = types.LogInfo{Index: idx, Term: term}
	}

	// Replication below the election layer is abstract: applied entries
	// are committed entries on the leader.
	if last := a.spearhead.LastIndex(); last > a.commit {
		a.commit = last
		a.readDB = a.spearhead.Snapshot()
		metrics.CommitIndexGauge.Set(float64(a.commit))
		a.commitC.Broadcast()
		a.maybeSnapshotLocked()
	}

	return res
}

// Transact submits a batch and reports the highest produced index.
func (a *Agent) Transact(txs []store.Transaction) TransResult {
	res := a.Write(txs)
	out := TransResult{Accepted: res.Accepted, Indices: res.Indices}
	for _, idx := range res.Indices {
		if idx > out.MaxIndex {
			out.MaxIndex = idx
		}
	}
	return out
}

// WaitFor blocks until the given index has committed.
func (a *Agent) WaitFor(index uint64) types.CommitStatus {
	deadline := time.Now().Add(commitTimeout)

	a.mu.Lock()
	defer a.mu.Unlock()

	for a.commit < index {
		if time.Now().After(deadline) {
			return types.CommitTimeout
		}
		// Cond has no timed wait; wake periodically to check the
		// deadline.
		waker := time.AfterFunc(100*time.Millisecond, a.commitC.Broadcast)
		a.commitC.Wait()
		waker.Stop()
	}
	return types.CommitOK
}

// Snapshot returns a consistent copy of the committed tree.
func (a *Agent) Snapshot() *store.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readDB.Clone()
}

// Lead rebuilds the spearhead from the committed view. Called by the
// constituent on conversion to leader.
func (a *Agent) Lead() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.spearhead = store.NewEngineFromNode(a.readDB.Clone(), a.commit)
	a.logger.Info().Uint64("commit", a.commit).Msg("Rebuilt leader views")
}

// Persist writes the committed tree to the durable store. Called on clean
// shutdown.
func (a *Agent) Persist() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persistLocked()
}

func (a *Agent) maybeSnapshotLocked() {
	if a.commit-a.lastSnap < snapshotEvery {
		return
	}
	if err := a.persistLocked(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to persist tree snapshot")
	}
}

func (a *Agent) persistLocked() error {
	data, err := json.Marshal(a.readDB)
	if err != nil {
		return err
	}
	if err := a.store.SaveSnapshot(a.commit, data); err != nil {
		return err
	}
	a.lastSnap = a.commit
	return nil
}
