package supervision

import (
	"testing"
	"time"

	"github.com/cuemby/quorum/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// snapshotAgent serves a fixed tree under the agency prefix, recording
// writes like mockAgent.
type snapshotAgent struct {
	mockAgent
	tree *store.Node
}

func newSnapshotAgent(agency *store.Node) *snapshotAgent {
	root := store.NewNode()
	root.Set(agencyPrefix, agency.Export())
	a := &snapshotAgent{tree: root}
	a.mockAgent = *newMockAgent()
	return a
}

func (a *snapshotAgent) Snapshot() *store.Node { return a.tree.Clone() }

type fixedRoles struct{ leading bool }

func (r fixedRoles) Term() uint64  { return 1 }
func (r fixedRoles) Leading() bool { return r.leading }

func TestSupervisorStartsToDoJobs(t *testing.T) {
	agency := baseline()
	withToDoJob(agency, "1", addFollowerToDoDoc("1"))
	ag := newSnapshotAgent(agency)

	s := NewSupervisor(ag, fixedRoles{leading: true}, nil, testRNG(), time.Second)
	s.runOnce()

	require.NotEmpty(t, ag.writes)
	tx := ag.writes[len(ag.writes)-1][0]
	assert.True(t, hasWrite(tx, "/arango/Target/Finished/1", store.OpSet))
}

func TestSupervisorSkipsUnknownJobTypes(t *testing.T) {
	agency := baseline()
	withToDoJob(agency, "1", map[string]interface{}{"type": "mystery", "jobId": "1"})
	ag := newSnapshotAgent(agency)

	s := NewSupervisor(ag, fixedRoles{leading: true}, nil, testRNG(), time.Second)
	s.runOnce()

	assert.Empty(t, ag.writes, "unknown job types are left where they are")
}

func TestSupervisorRecordsFailedServersAndPlansRecovery(t *testing.T) {
	agency := baseline()
	agency.Set(healthPrefix+shardLeader+"/Status", "FAILED")
	ag := newSnapshotAgent(agency)

	s := NewSupervisor(ag, fixedRoles{leading: true}, nil, testRNG(), time.Second)
	s.runOnce()

	require.NotEmpty(t, ag.writes)

	// First: the failed-server record
	record := ag.writes[0][0]
	op, ok := record.Writes["/arango"+failedServersPath+"/"+shardLeader]
	require.True(t, ok)
	assert.Equal(t, store.OpSet, op.Kind)

	// Then: one FailedLeader job for the shard the server led
	var planned bool
	for _, batch := range ag.writes[1:] {
		for path, w := range batch[0].Writes {
			if w.Kind != store.OpSet {
				continue
			}
			doc, ok := w.Value.(map[string]interface{})
			if ok && doc["type"] == JobTypeFailedLeader {
				planned = true
				assert.Contains(t, path, "/arango/Target/ToDo/")
				assert.Equal(t, shardLeader, doc["fromServer"])
				assert.Equal(t, testShard, doc["shard"])
			}
		}
	}
	assert.True(t, planned, "a FailedLeader job should be planned")
}
