package storage

import (
	"testing"

	"github.com/cuemby/quorum/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLatestElectionRecordEmpty(t *testing.T) {
	store := newTestStore(t)

	rec, err := store.LatestElectionRecord()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestLatestElectionRecordIsGreatestTerm(t *testing.T) {
	store := newTestStore(t)

	// Insertion order does not matter; the zero-padded key sorts by term
	for _, rec := range []types.ElectionRecord{
		{Term: 5, VotedFor: "B"},
		{Term: 100, VotedFor: "C"},
		{Term: 7, VotedFor: "A"},
	} {
		rec := rec
		require.NoError(t, store.SaveElectionRecord(&rec))
	}

	latest, err := store.LatestElectionRecord()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(100), latest.Term)
	assert.Equal(t, "C", latest.VotedFor)
}

func TestElectionRecordOverwriteSameTerm(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveElectionRecord(&types.ElectionRecord{Term: 3, VotedFor: ""}))
	require.NoError(t, store.SaveElectionRecord(&types.ElectionRecord{Term: 3, VotedFor: "B"}))

	latest, err := store.LatestElectionRecord()
	require.NoError(t, err)
	assert.Equal(t, "B", latest.VotedFor)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	idx, tree, err := store.LatestSnapshot()
	require.NoError(t, err)
	assert.Zero(t, idx)
	assert.Nil(t, tree)

	require.NoError(t, store.SaveSnapshot(10, []byte(`{"a":1}`)))
	require.NoError(t, store.SaveSnapshot(2000, []byte(`{"a":2}`)))

	idx, tree, err = store.LatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), idx)
	assert.JSONEq(t, `{"a":2}`, string(tree))
}
