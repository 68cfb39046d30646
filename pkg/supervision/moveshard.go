package supervision

import (
	"fmt"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/store"
)

// JobTypeMoveShard tags MoveShard job documents.
const JobTypeMoveShard = "moveShard"

// MoveShard relocates one shard replica from fromServer to toServer. The
// isLeader flag records whether the moved replica leads the shard; the
// destination takes over the same position in the replica list, so a
// leader move transfers leadership.
type MoveShard struct {
	baseJob
	database   string
	collection string
	shard      string
	fromServer string
	toServer   string
	isLeader   bool
}

// NewMoveShard prepares a job for creation into ToDo.
func NewMoveShard(snapshot *store.Node, ag agent.Interface, jobID, creator, database, collection, shard, fromServer, toServer string, isLeader bool) *MoveShard {
	return &MoveShard{
		baseJob:    newBaseJob(snapshot, ag, StatusNotFound, jobID, creator, JobTypeMoveShard),
		database:   database,
		collection: collection,
		shard:      shard,
		fromServer: fromServer,
		toServer:   toServer,
		isLeader:   isLeader,
	}
}

// ResumeMoveShard reconstructs a job from the replicated state.
func ResumeMoveShard(snapshot *store.Node, ag agent.Interface, status Status, jobID string) *MoveShard {
	j := &MoveShard{baseJob: newBaseJob(snapshot, ag, status, jobID, "", JobTypeMoveShard)}

	path := status.prefix() + jobID + "/"
	fields := map[string]*string{
		"database":   &j.database,
		"collection": &j.collection,
		"shard":      &j.shard,
		"fromServer": &j.fromServer,
		"toServer":   &j.toServer,
		"creator":    &j.creator,
	}
	for name, dst := range fields {
		v, err := snapshot.GetString(path + name)
		if err != nil {
			reason := fmt.Sprintf("failed to find job %s in agency: %v", jobID, err)
			j.logger.Error().Msg(reason)
			j.finish("", false, reason)
			return j
		}
		*dst = v
	}
	if leader, err := snapshot.GetBool(path + "isLeader"); err == nil {
		j.isLeader = leader
	}
	return j
}

// Create inserts the job document into ToDo.
func (j *MoveShard) Create() bool {
	j.logger.Debug().Str("shard", j.shard).Str("from", j.fromServer).Str("to", j.toServer).
		Msg("Todo: move shard")
	return j.insertToDo(map[string]interface{}{
		"database":   j.database,
		"collection": j.collection,
		"shard":      j.shard,
		"fromServer": j.fromServer,
		"toServer":   j.toServer,
		"isLeader":   j.isLeader,
	})
}

func (j *MoveShard) shardPath() string {
	return planColPrefix + "/" + j.database + "/" + j.collection + "/shards/" + j.shard
}

// Start performs the ToDo -> Pending transition together with the plan
// update. Preconditions pin the replica list the decision was made on and
// require the shard to be unblocked.
func (j *MoveShard) Start() bool {
	colPath := planColPrefix + "/" + j.database + "/" + j.collection
	collection, ok := j.snapshot.Get(colPath)
	if !ok {
		j.finish("", true, "collection no longer exists")
		return false
	}
	if distributeShardsLike(collection) != "" {
		j.finish("", false, "collection has a distributeShardsLike attribute")
		return false
	}

	replicas, err := j.snapshot.GetStringArray(j.shardPath())
	if err != nil {
		j.finish("", false, fmt.Sprintf("shard %s not found in plan: %v", j.shard, err))
		return false
	}

	fromIdx := -1
	for i, r := range replicas {
		if r == j.fromServer {
			fromIdx = i
		}
		if r == j.toServer {
			j.finish("", true, "destination already holds the shard")
			return false
		}
	}
	if fromIdx == -1 {
		j.finish("", true, "source no longer holds the shard")
		return false
	}

	if healthOf(j.snapshot, j.toServer) != HealthGood {
		j.finish("", false, fmt.Sprintf("destination %s is not healthy", j.toServer))
		return false
	}
	if blocked(j.snapshot, "Shards/"+j.shard) || blocked(j.snapshot, "DBServers/"+j.toServer) {
		// The shard or destination is held by another job; retry later.
		return false
	}

	newList := make([]interface{}, len(replicas))
	for i, r := range replicas {
		if i == fromIdx {
			newList[i] = j.toServer
			continue
		}
		newList[i] = r
	}

	doc := j.jobDoc()
	if doc == nil {
		doc = map[string]interface{}{
			"type":       j.jobType,
			"jobId":      j.jobID,
			"creator":    j.creator,
			"database":   j.database,
			"collection": j.collection,
			"shard":      j.shard,
			"fromServer": j.fromServer,
			"toServer":   j.toServer,
			"isLeader":   j.isLeader,
		}
	}

	tx := store.NewTransaction().
		Set(agencyPrefix+pendingPrefix+j.jobID, pendingDoc(doc)).
		Delete(agencyPrefix+toDoPrefix+j.jobID).
		Set(agencyPrefix+blockedShardsPrefix+j.shard, map[string]interface{}{"jobId": j.jobID}).
		Set(agencyPrefix+j.shardPath(), newList).
		Old(agencyPrefix+j.shardPath(), toValueList(replicas)).
		OldEmpty(agencyPrefix+blockedShardsPrefix+j.shard, true).
		Commit()

	res := j.agent.Write([]store.Transaction{tx})
	if !res.Successful() {
		j.logger.Info().Msg("Precondition failed for starting job, retrying next round")
		return false
	}

	j.status = StatusPending
	j.logger.Info().Str("shard", j.shard).Str("from", j.fromServer).Str("to", j.toServer).
		Msg("Pending: move shard")
	return true
}

// Status checks whether the plan reflects the move and finishes the job,
// releasing the shard block. A pending move older than the supervision
// job timeout is surfaced as failed.
func (j *MoveShard) Status() Status {
	if j.status != StatusPending {
		return j.status
	}

	doc := j.jobDoc()
	if doc != nil && startedBefore(doc, j.agent.Config().JobTimeout) {
		j.finish("Shards/"+j.shard, false, "timed out")
		return j.status
	}

	replicas, err := j.snapshot.GetStringArray(j.shardPath())
	if err != nil {
		return j.status
	}
	moved := false
	for _, r := range replicas {
		if r == j.fromServer {
			return j.status
		}
		if r == j.toServer {
			moved = true
		}
	}
	if moved {
		j.finish("Shards/"+j.shard, true, "")
	}
	return j.status
}

// Abort cancels the job. In ToDo nothing has happened yet; in Pending the
// plan change has been submitted, so the job is surfaced as failed and the
// shard block released.
func (j *MoveShard) Abort() {
	switch j.status {
	case StatusToDo:
		j.finish("", true, "job aborted")
	case StatusPending:
		j.finish("Shards/"+j.shard, false, "job aborted")
	}
}
