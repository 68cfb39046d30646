package agent

import (
	"os"
	"sync"
	"testing"

	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/store"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

// memStore keeps snapshots in memory for agent tests.
type memStore struct {
	mu       sync.Mutex
	snapIdx  uint64
	snapshot []byte
}

func (s *memStore) SaveElectionRecord(rec *types.ElectionRecord) error { return nil }
func (s *memStore) LatestElectionRecord() (*types.ElectionRecord, error) {
	return nil, nil
}
func (s *memStore) SaveSnapshot(index uint64, tree []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapIdx, s.snapshot = index, tree
	return nil
}
func (s *memStore) LatestSnapshot() (uint64, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapIdx, s.snapshot, nil
}
func (s *memStore) Close() error { return nil }

type fixedRoles struct {
	term    uint64
	leading bool
}

func (r fixedRoles) Term() uint64  { return r.term }
func (r fixedRoles) Leading() bool { return r.leading }

func singleNodeConfig() *types.Config {
	return &types.Config{
		ID:      "agent-1",
		Size:    1,
		Active:  []string{"agent-1"},
		Pool:    map[string]string{"agent-1": "http://127.0.0.1:8529"},
		MinPing: 1.0,
		MaxPing: 5.0,
	}
}

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	a := New(singleNodeConfig(), &memStore{})
	require.NoError(t, a.Restore())
	return a
}

func TestWriteAppliesAndCommits(t *testing.T) {
	a := newTestAgent(t)

	res := a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/key", "value").Commit(),
	})
	require.True(t, res.Successful())

	assert.Equal(t, types.CommitOK, a.WaitFor(res.Indices[0]))

	v, err := a.Snapshot().GetString("/arango/key")
	require.NoError(t, err)
	assert.Equal(t, "value", v)
}

func TestWriteRejectedOnFollower(t *testing.T) {
	a := newTestAgent(t)
	a.SetRoleSource(fixedRoles{term: 2, leading: false})

	res := a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/key", "value").Commit(),
	})
	assert.False(t, res.Accepted)
	assert.Equal(t, []uint64{0}, res.Indices)
}

func TestLastLogCarriesTerm(t *testing.T) {
	a := newTestAgent(t)
	a.SetRoleSource(fixedRoles{term: 4, leading: true})

	a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/a", 1).Commit(),
	})

	last := a.LastLog()
	assert.Equal(t, uint64(1), last.Index)
	assert.Equal(t, uint64(4), last.Term)
}

func TestRejectedTransactionLeavesLogEnd(t *testing.T) {
	a := newTestAgent(t)

	a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/a", 1).Commit(),
	})
	res := a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/a", 2).Old("/arango/a", 99).Commit(),
	})

	assert.Equal(t, []uint64{0}, res.Indices)
	assert.Equal(t, uint64(1), a.LastLog().Index)
}

func TestSnapshotIsIsolated(t *testing.T) {
	a := newTestAgent(t)
	a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/list", []interface{}{"x"}).Commit(),
	})

	snap := a.Snapshot()
	a.Write([]store.Transaction{
		store.NewTransaction().Push("/arango/list", "y").Commit(),
	})

	list, err := snap.GetArray("/arango/list")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPersistAndRestore(t *testing.T) {
	st := &memStore{}
	a := New(singleNodeConfig(), st)
	require.NoError(t, a.Restore())

	a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/Plan/DBServers/s1", "none").Commit(),
	})
	require.NoError(t, a.Persist())

	b := New(singleNodeConfig(), st)
	require.NoError(t, b.Restore())

	v, err := b.Snapshot().GetString("/arango/Plan/DBServers/s1")
	require.NoError(t, err)
	assert.Equal(t, "none", v)
	assert.Equal(t, uint64(1), b.LastLog().Index)
}

func TestLeadRebuildsSpearhead(t *testing.T) {
	a := newTestAgent(t)
	a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/a", 1).Commit(),
	})

	a.Lead()

	// Writes after the rebuild continue from the committed state
	res := a.Write([]store.Transaction{
		store.NewTransaction().Set("/arango/b", 2).Old("/arango/a", 1).Commit(),
	})
	require.True(t, res.Successful())
	assert.Equal(t, uint64(2), res.Indices[0])
}
