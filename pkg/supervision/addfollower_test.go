package supervision

import (
	"testing"

	"github.com/cuemby/quorum/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFollowerCreateWritesToDo(t *testing.T) {
	snapshot := baseline()
	ag := newMockAgent()

	job := NewAddFollower(snapshot, ag, "1", "unittest", testDatabase, testCollection, testShard)
	require.True(t, job.Create())

	tx := ag.lastTx(t)
	assert.Empty(t, tx.Preconditions, "create carries no preconditions")
	require.Len(t, tx.Writes, 1, "create should only write the ToDo entry")

	op, ok := tx.Writes["/arango/Target/ToDo/1"]
	require.True(t, ok)
	assert.Equal(t, store.OpSet, op.Kind)

	doc, ok := op.Value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, JobTypeAddFollower, doc["type"])
	assert.Equal(t, testDatabase, doc["database"])
	assert.Equal(t, testCollection, doc["collection"])
	assert.Equal(t, testShard, doc["shard"])
	assert.Equal(t, "1", doc["jobId"])
	assert.Equal(t, "unittest", doc["creator"])
	assert.NotEmpty(t, doc["timeCreated"])
}

func TestAddFollowerCollectionMissingFinishes(t *testing.T) {
	snapshot := baseline()
	snapshot.Delete(planColPrefix + "/" + testDatabase + "/" + testCollection)
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	job.Start()

	tx := ag.lastTx(t)
	assert.True(t, hasWrite(tx, "/arango/Target/ToDo/1", store.OpDelete))
	assert.True(t, hasWrite(tx, "/arango/Target/Finished/1", store.OpSet))
	_, failed := tx.Writes["/arango/Target/Failed/1"]
	assert.False(t, failed)
	assert.Equal(t, StatusFinished, job.Status())
}

func TestAddFollowerDistributeShardsLikeFails(t *testing.T) {
	snapshot := baseline()
	snapshot.Set(planColPrefix+"/"+testDatabase+"/"+testCollection+"/distributeShardsLike", "PENG")
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	job.Start()

	tx := ag.lastTx(t)
	assert.True(t, hasWrite(tx, "/arango/Target/ToDo/1", store.OpDelete))
	assert.True(t, hasWrite(tx, "/arango/Target/Failed/1", store.OpSet))
	_, finished := tx.Writes["/arango/Target/Finished/1"]
	assert.False(t, finished)
	assert.Equal(t, StatusFailed, job.Status())
}

func TestAddFollowerAlreadyReplicatedFinishes(t *testing.T) {
	snapshot := baseline()
	// The shard regained its third replica since the job was created.
	snapshot.Set(planColPrefix+"/"+testDatabase+"/"+testCollection+"/shards/"+testShard,
		[]interface{}{shardLeader, shardFollower1, shardFollower2})
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	job.Start()

	tx := ag.lastTx(t)
	assert.True(t, hasWrite(tx, "/arango/Target/ToDo/1", store.OpDelete))
	assert.True(t, hasWrite(tx, "/arango/Target/Finished/1", store.OpSet))
	assert.True(t, hasWrite(tx, "/arango/Target/Pending/1", store.OpDelete))
	_, failed := tx.Writes["/arango/Target/Failed/1"]
	assert.False(t, failed, "a moot job is not a failed job")
}

func TestAddFollowerHappyPath(t *testing.T) {
	snapshot := baseline()
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	require.True(t, job.Start())

	tx := ag.lastTx(t)
	shardPath := "/arango" + planColPrefix + "/" + testDatabase + "/" + testCollection + "/shards/" + testShard

	// One transaction: remove ToDo, create Finished, extend the replica list
	assert.True(t, hasWrite(tx, "/arango/Target/ToDo/1", store.OpDelete))
	assert.True(t, hasWrite(tx, "/arango/Target/Finished/1", store.OpSet))
	require.True(t, hasWrite(tx, shardPath, store.OpPush))
	assert.Equal(t, freeServer, tx.Writes[shardPath].Value,
		"free is the only GOOD unblocked server not holding the shard")

	// Preconditions pin the replica list and the shard block
	old, ok := tx.Preconditions[shardPath]
	require.True(t, ok)
	assert.Equal(t, store.PredOld, old.Kind)
	assert.Equal(t, []interface{}{shardLeader, shardFollower1}, old.Value)

	block, ok := tx.Preconditions["/arango/Supervision/Shards/"+testShard]
	require.True(t, ok)
	assert.Equal(t, store.PredOldEmpty, block.Kind)
	assert.True(t, block.Flag)

	assert.Equal(t, StatusFinished, job.Status())
}

func TestAddFollowerShardBlockedStaysInToDo(t *testing.T) {
	snapshot := baseline()
	snapshot.Set(blockedShardsPrefix+testShard, map[string]interface{}{"jobId": "other"})
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	assert.False(t, job.Start())
	assert.Empty(t, ag.writes, "a blocked shard leaves the job untouched in ToDo")
	assert.Equal(t, StatusToDo, job.Status())
}

func TestAddFollowerNoCandidateFails(t *testing.T) {
	snapshot := baseline()
	// The only GOOD server is gone
	snapshot.Delete(healthPrefix + freeServer)
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	job.Start()

	tx := ag.lastTx(t)
	assert.True(t, hasWrite(tx, "/arango/Target/Failed/1", store.OpSet))
	assert.Equal(t, StatusFailed, job.Status())
}

func TestAddFollowerAbortFromToDo(t *testing.T) {
	snapshot := baseline()
	withToDoJob(snapshot, "1", addFollowerToDoDoc("1"))
	ag := newMockAgent()

	job := ResumeAddFollower(snapshot, ag, StatusToDo, "1")
	job.Abort()

	tx := ag.lastTx(t)
	assert.True(t, hasWrite(tx, "/arango/Target/ToDo/1", store.OpDelete))
	assert.True(t, hasWrite(tx, "/arango/Target/Finished/1", store.OpSet))
}
