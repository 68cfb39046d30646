package supervision

import (
	"fmt"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/store"
)

// JobTypeFailedLeader tags FailedLeader job documents.
const JobTypeFailedLeader = "failedLeader"

// FailedLeader hands a shard's leadership to a healthy in-sync follower
// after its leader has been recorded in Target/FailedServers. The failed
// server stays in the replica list, demoted to the back, since it may
// recover and resync. Like AddFollower, the job completes in a single
// transaction.
type FailedLeader struct {
	baseJob
	database   string
	collection string
	shard      string
	fromServer string
}

// NewFailedLeader prepares a job for creation into ToDo.
func NewFailedLeader(snapshot *store.Node, ag agent.Interface, jobID, creator, database, collection, shard, fromServer string) *FailedLeader {
	return &FailedLeader{
		baseJob:    newBaseJob(snapshot, ag, StatusNotFound, jobID, creator, JobTypeFailedLeader),
		database:   database,
		collection: collection,
		shard:      shard,
		fromServer: fromServer,
	}
}

// ResumeFailedLeader reconstructs a job from the replicated state.
func ResumeFailedLeader(snapshot *store.Node, ag agent.Interface, status Status, jobID string) *FailedLeader {
	j := &FailedLeader{baseJob: newBaseJob(snapshot, ag, status, jobID, "", JobTypeFailedLeader)}

	path := status.prefix() + jobID + "/"
	fields := map[string]*string{
		"database":   &j.database,
		"collection": &j.collection,
		"shard":      &j.shard,
		"fromServer": &j.fromServer,
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
	return j
}

// Create inserts the job document into ToDo.
func (j *FailedLeader) Create() bool {
	j.logger.Debug().Str("shard", j.shard).Str("from", j.fromServer).Msg("Todo: failed leader")
	return j.insertToDo(map[string]interface{}{
		"database":   j.database,
		"collection": j.collection,
		"shard":      j.shard,
		"fromServer": j.fromServer,
	})
}

func (j *FailedLeader) shardPath() string {
	return planColPrefix + "/" + j.database + "/" + j.collection + "/shards/" + j.shard
}

// Start promotes the first healthy, unblocked follower in one
// transaction.
func (j *FailedLeader) Start() bool {
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
	if len(replicas) == 0 || replicas[0] != j.fromServer {
		j.finish("", true, "server no longer leads the shard")
		return false
	}

	if failed, ok := j.snapshot.Get(failedServersPath); ok {
		if _, isFailed := failed.Children()[j.fromServer]; !isFailed {
			j.finish("", false, fmt.Sprintf("%s has not been recorded as failed", j.fromServer))
			return false
		}
	} else {
		j.finish("", false, fmt.Sprintf("%s has not been recorded as failed", j.fromServer))
		return false
	}

	if blocked(j.snapshot, "Shards/"+j.shard) {
		return false
	}

	successor := ""
	for _, r := range replicas[1:] {
		if healthOf(j.snapshot, r) == HealthGood && !blocked(j.snapshot, "DBServers/"+r) {
			successor = r
			break
		}
	}
	if successor == "" {
		// No viable follower right now; the shard may regain one.
		return false
	}

	newList := make([]interface{}, 0, len(replicas))
	newList = append(newList, successor)
	for _, r := range replicas[1:] {
		if r != successor {
			newList = append(newList, r)
		}
	}
	newList = append(newList, j.fromServer)

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
		}
	}
	doc["timeFinished"] = nowStamp()

	tx := store.NewTransaction().
		Set(agencyPrefix+finishedPrefix+j.jobID, doc).
		Delete(agencyPrefix+toDoPrefix+j.jobID).
		Delete(agencyPrefix+pendingPrefix+j.jobID).
		Set(agencyPrefix+j.shardPath(), newList).
		Old(agencyPrefix+j.shardPath(), toValueList(replicas)).
		OldEmpty(agencyPrefix+blockedShardsPrefix+j.shard, true).
		Commit()

	res := j.agent.Write([]store.Transaction{tx})
	if !res.Successful() {
		j.logger.Info().Msg("Precondition failed for starting job, retrying next round")
		return false
	}

	j.status = StatusFinished
	j.logger.Info().Str("shard", j.shard).Str("successor", successor).Msg("Promoted new shard leader")
	return true
}

// Status reports the job's lifecycle state; FailedLeader never stays
// pending.
func (j *FailedLeader) Status() Status {
	return j.status
}

// Abort cancels a job still in ToDo.
func (j *FailedLeader) Abort() {
	if j.status == StatusToDo {
		j.finish("", true, "job aborted")
	}
}
