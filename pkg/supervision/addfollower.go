package supervision

import (
	"fmt"
	"sort"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/store"
)

// JobTypeAddFollower tags AddFollower job documents.
const JobTypeAddFollower = "addFollower"

// AddFollower restores a shard's replication by appending a healthy, free
// server to its replica list. The job completes immediately: one
// transaction performs the ToDo removal, the Finished entry and the plan
// update.
type AddFollower struct {
	baseJob
	database   string
	collection string
	shard      string
}

// NewAddFollower prepares a job for creation into ToDo.
func NewAddFollower(snapshot *store.Node, ag agent.Interface, jobID, creator, database, collection, shard string) *AddFollower {
	j := &AddFollower{
		baseJob:    newBaseJob(snapshot, ag, StatusNotFound, jobID, creator, JobTypeAddFollower),
		database:   database,
		collection: collection,
		shard:      shard,
	}
	return j
}

// ResumeAddFollower reconstructs a job from the replicated state given its
// id and current status.
func ResumeAddFollower(snapshot *store.Node, ag agent.Interface, status Status, jobID string) *AddFollower {
	j := &AddFollower{baseJob: newBaseJob(snapshot, ag, status, jobID, "", JobTypeAddFollower)}

	path := status.prefix() + jobID + "/"
	var err error
	if j.database, err = snapshot.GetString(path + "database"); err == nil {
		if j.collection, err = snapshot.GetString(path + "collection"); err == nil {
			if j.shard, err = snapshot.GetString(path + "shard"); err == nil {
				j.creator, err = snapshot.GetString(path + "creator")
			}
		}
	}
	if err != nil {
		reason := fmt.Sprintf("failed to find job %s in agency: %v", jobID, err)
		j.logger.Error().Msg(reason)
		j.finish("", false, reason)
	}
	return j
}

// Create inserts the job document into ToDo.
func (j *AddFollower) Create() bool {
	j.logger.Debug().Str("shard", j.shard).Msg("Todo: add follower")
	return j.insertToDo(map[string]interface{}{
		"database":   j.database,
		"collection": j.collection,
		"shard":      j.shard,
	})
}

// collectionPath is the snapshot-relative path of the job's collection.
func (j *AddFollower) collectionPath() string {
	return planColPrefix + "/" + j.database + "/" + j.collection
}

// Start checks the plan and, when a follower is still needed, performs the
// whole job in a single transaction.
func (j *AddFollower) Start() bool {
	colPath := j.collectionPath()
	collection, ok := j.snapshot.Get(colPath)
	if !ok {
		// The collection is gone; nothing left to do.
		return j.finish("", true, "collection no longer exists")
	}

	if distributeShardsLike(collection) != "" {
		return j.finish("", false, "collection has a distributeShardsLike attribute")
	}

	shardPath := colPath + "/shards/" + j.shard
	replicas, err := j.snapshot.GetStringArray(shardPath)
	if err != nil {
		return j.finish("", false, fmt.Sprintf("shard %s not found in plan: %v", j.shard, err))
	}

	replFactor, err := collection.GetUInt("replicationFactor")
	if err != nil {
		replFactor = 1
	}
	if uint64(len(replicas)) >= replFactor {
		// The shard regained enough replicas since the job was created.
		return j.finish("", true, "job no longer necessary")
	}

	if blocked(j.snapshot, "Shards/"+j.shard) {
		// Another job is reconfiguring this shard; stay in ToDo.
		return false
	}

	follower, found := j.selectFollower(replicas)
	if !found {
		return j.finish("", false, "no server is GOOD, free and not already holding the shard")
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
		}
	}
	doc["timeFinished"] = nowStamp()

	oldList := toValueList(replicas)
	tx := store.NewTransaction().
		Set(agencyPrefix+finishedPrefix+j.jobID, doc).
		Delete(agencyPrefix+toDoPrefix+j.jobID).
		Delete(agencyPrefix+pendingPrefix+j.jobID).
		Push(agencyPrefix+planColPrefix+"/"+j.database+"/"+j.collection+"/shards/"+j.shard, follower).
		Old(agencyPrefix+planColPrefix+"/"+j.database+"/"+j.collection+"/shards/"+j.shard, oldList).
		OldEmpty(agencyPrefix+blockedShardsPrefix+j.shard, true).
		Commit()

	res := j.agent.Write([]store.Transaction{tx})
	if !res.Successful() {
		j.logger.Info().Msg("Precondition failed for starting job, retrying next round")
		return false
	}

	j.status = StatusFinished
	j.logger.Info().Str("follower", follower).Str("shard", j.shard).Msg("Added follower")
	return true
}

// selectFollower picks a destination among the servers whose health is
// GOOD, which carry no supervision block, and which do not already hold
// the shard. Candidates are ranked by name so the choice is stable for a
// given snapshot.
func (j *AddFollower) selectFollower(replicas []string) (string, bool) {
	holding := make(map[string]bool, len(replicas))
	for _, r := range replicas {
		holding[r] = true
	}

	var candidates []string
	for _, server := range availableServers(j.snapshot) {
		if holding[server] {
			continue
		}
		if healthOf(j.snapshot, server) != HealthGood {
			continue
		}
		if blocked(j.snapshot, "DBServers/"+server) {
			continue
		}
		candidates = append(candidates, server)
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Strings(candidates)
	return candidates[0], true
}

// Status reports the job's lifecycle state; AddFollower never stays
// pending.
func (j *AddFollower) Status() Status {
	return j.status
}

// Abort cancels a job still in ToDo.
func (j *AddFollower) Abort() {
	if j.status == StatusToDo {
		j.finish("", true, "job aborted")
	}
}

// toValueList converts a string slice into the tree's array
// representation.
func toValueList(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
