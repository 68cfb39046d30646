package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAssignsMonotoneIndices(t *testing.T) {
	e := NewEngine()

	res := e.Apply([]Transaction{
		NewTransaction().Set("/a", 1).Commit(),
		NewTransaction().Set("/b", 2).Commit(),
	})

	require.True(t, res.Accepted)
	assert.Equal(t, []uint64{1, 2}, res.Indices)
	assert.Equal(t, uint64(2), e.LastIndex())
}

func TestRejectedTransactionRecordsIndexZero(t *testing.T) {
	e := NewEngine()
	e.Apply([]Transaction{NewTransaction().Set("/a", 1).Commit()})

	res := e.Apply([]Transaction{
		NewTransaction().Set("/a", 2).Old("/a", 99).Commit(),
	})

	require.True(t, res.Accepted)
	assert.Equal(t, []uint64{0}, res.Indices)
	assert.False(t, res.Successful())

	// The write did not apply
	snap := e.Snapshot()
	v, err := snap.GetUInt("/a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestAtomicityOnPreconditionFailure(t *testing.T) {
	e := NewEngine()
	e.Apply([]Transaction{NewTransaction().Set("/x", "old").Commit()})

	// Two writes, one failing precondition: neither applies
	res := e.Apply([]Transaction{
		NewTransaction().
			Set("/x", "new").
			Set("/y", "created").
			OldEmpty("/x", true).
			Commit(),
	})

	assert.Equal(t, []uint64{0}, res.Indices)
	snap := e.Snapshot()
	v, err := snap.GetString("/x")
	require.NoError(t, err)
	assert.Equal(t, "old", v)
	assert.Equal(t, 0, snap.Exists("/y"))
}

func TestPredicates(t *testing.T) {
	seed := func() *Engine {
		e := NewEngine()
		e.Apply([]Transaction{
			NewTransaction().
				Set("/value", "present").
				Set("/list", []interface{}{"a", "b"}).
				Set("/emptyObj", map[string]interface{}{}).
				Commit(),
		})
		return e
	}

	tests := []struct {
		name     string
		tx       Transaction
		accepted bool
	}{
		{
			"old equality holds",
			NewTransaction().Set("/out", 1).Old("/value", "present").Commit(),
			true,
		},
		{
			"old equality fails",
			NewTransaction().Set("/out", 1).Old("/value", "other").Commit(),
			false,
		},
		{
			"oldEmpty true on absent path",
			NewTransaction().Set("/out", 1).OldEmpty("/missing", true).Commit(),
			true,
		},
		{
			"oldEmpty true on empty object",
			NewTransaction().Set("/out", 1).OldEmpty("/emptyObj", true).Commit(),
			true,
		},
		{
			"oldEmpty true on occupied path",
			NewTransaction().Set("/out", 1).OldEmpty("/value", true).Commit(),
			false,
		},
		{
			"oldEmpty false on occupied path",
			NewTransaction().Set("/out", 1).OldEmpty("/value", false).Commit(),
			true,
		},
		{
			"isArray true on array",
			NewTransaction().Set("/out", 1).IsArray("/list", true).Commit(),
			true,
		},
		{
			"isArray true on scalar",
			NewTransaction().Set("/out", 1).IsArray("/value", true).Commit(),
			false,
		},
		{
			"in contained element",
			NewTransaction().Set("/out", 1).In("/list", "a").Commit(),
			true,
		},
		{
			"in missing element",
			NewTransaction().Set("/out", 1).In("/list", "z").Commit(),
			false,
		},
		{
			"notIn missing element",
			NewTransaction().Set("/out", 1).NotIn("/list", "z").Commit(),
			true,
		},
		{
			"notIn contained element",
			NewTransaction().Set("/out", 1).NotIn("/list", "a").Commit(),
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := seed()
			res := e.Apply([]Transaction{tt.tx})
			if tt.accepted {
				assert.NotZero(t, res.Indices[0])
			} else {
				assert.Zero(t, res.Indices[0])
			}
		})
	}
}

func TestPreconditionsEvaluateAgainstPreTransactionState(t *testing.T) {
	e := NewEngine()
	e.Apply([]Transaction{NewTransaction().Set("/counter", 1).Commit()})

	// The second transaction in the batch sees the first one's write.
	res := e.Apply([]Transaction{
		NewTransaction().Set("/counter", 2).Old("/counter", 1).Commit(),
		NewTransaction().Set("/counter", 3).Old("/counter", 2).Commit(),
		NewTransaction().Set("/counter", 4).Old("/counter", 1).Commit(),
	})

	assert.NotZero(t, res.Indices[0])
	assert.NotZero(t, res.Indices[1])
	assert.Zero(t, res.Indices[2])

	v, err := e.Snapshot().GetUInt("/counter")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)
}

func TestNumericEqualityNormalizes(t *testing.T) {
	e := NewEngine()
	// Stored as int, compared as float (as JSON decoding would yield)
	e.Apply([]Transaction{NewTransaction().Set("/n", 2).Commit()})

	res := e.Apply([]Transaction{
		NewTransaction().Set("/out", 1).Old("/n", float64(2)).Commit(),
	})
	assert.NotZero(t, res.Indices[0])
}

func TestResourceBlockAcquisition(t *testing.T) {
	e := NewEngine()

	acquire := func(jobID string) WriteResult {
		return e.Apply([]Transaction{
			NewTransaction().
				Set("/arango/Supervision/DBServers/s1", map[string]interface{}{"jobId": jobID}).
				OldEmpty("/arango/Supervision/DBServers/s1", true).
				Commit(),
		})
	}

	// First job acquires, second is rejected
	assert.True(t, acquire("1").Successful())
	assert.False(t, acquire("2").Successful())

	// Release, then the second job succeeds
	e.Apply([]Transaction{
		NewTransaction().Delete("/arango/Supervision/DBServers/s1").Commit(),
	})
	assert.True(t, acquire("2").Successful())
}
