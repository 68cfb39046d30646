package supervision

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/store"
)

// JobTypeCleanOutServer tags CleanOutServer job documents.
const JobTypeCleanOutServer = "cleanOutServer"

// CleanOutServer evacuates every shard replica off one server and records
// it in Target/CleanedServers. The evacuation itself is delegated to
// MoveShard sub-jobs, one per affected shard, named <jobId>-<n>; the
// parent stays pending until all of them have terminated.
type CleanOutServer struct {
	baseJob
	server string
	rng    *rand.Rand

	// justStarted is set when the pending transition happened against
	// this snapshot; the completion check must wait for a newer one that
	// contains the scheduled sub-jobs.
	justStarted bool
}

// NewCleanOutServer prepares a job for creation into ToDo. The seeded rng
// drives destination selection so tests can be deterministic.
func NewCleanOutServer(snapshot *store.Node, ag agent.Interface, jobID, creator, server string, rng *rand.Rand) *CleanOutServer {
	return &CleanOutServer{
		baseJob: newBaseJob(snapshot, ag, StatusNotFound, jobID, creator, JobTypeCleanOutServer),
		server:  server,
		rng:     rng,
	}
}

// ResumeCleanOutServer reconstructs a job from the replicated state.
func ResumeCleanOutServer(snapshot *store.Node, ag agent.Interface, status Status, jobID string, rng *rand.Rand) *CleanOutServer {
	j := &CleanOutServer{
		baseJob: newBaseJob(snapshot, ag, status, jobID, "", JobTypeCleanOutServer),
		rng:     rng,
	}

	path := status.prefix() + jobID + "/"
	var err error
	if j.server, err = snapshot.GetString(path + "server"); err == nil {
		j.creator, err = snapshot.GetString(path + "creator")
	}
	if err != nil {
		reason := fmt.Sprintf("failed to find job %s in agency: %v", jobID, err)
		j.logger.Error().Msg(reason)
		j.finish("DBServers/"+j.server, false, reason)
	}
	return j
}

// Create inserts the job document into ToDo.
func (j *CleanOutServer) Create() bool {
	j.logger.Debug().Str("server", j.server).Msg("Todo: clean out server")
	return j.insertToDo(map[string]interface{}{
		"server": j.server,
	})
}

// checkFeasibility verifies the clean-out can succeed at all. The first
// failing check is returned as the reason.
func (j *CleanOutServer) checkFeasibility() (string, bool) {
	planPath := planDBServersPrefix + j.server
	if j.snapshot.Exists(planPath) != 3 {
		return fmt.Sprintf("no db server with id %s in plan", j.server), false
	}

	if cleaned, err := j.snapshot.GetStringArray(cleanedServersPath); err == nil {
		for _, s := range cleaned {
			if s == j.server {
				return fmt.Sprintf("%s has been cleaned out already", j.server), false
			}
		}
	}

	if failed, ok := j.snapshot.Get(failedServersPath); ok {
		if _, isFailed := failed.Children()[j.server]; isFailed {
			return fmt.Sprintf("%s has failed", j.server), false
		}
	}

	if cleaning, err := j.snapshot.GetBool(serverStatePrefix + j.server + "/cleaning"); err == nil && cleaning {
		return fmt.Sprintf("%s is already being cleaned out", j.server), false
	}

	remaining := 0
	for _, s := range availableServers(j.snapshot) {
		if s != j.server {
			remaining++
		}
	}
	if remaining < 1 {
		return fmt.Sprintf("db server %s is the last standing db server", j.server), false
	}

	// Collections that plan their own shards must still fit.
	if databases, ok := j.snapshot.Get(planColPrefix); ok {
		for dbName, database := range databases.Children() {
			for colName, collection := range database.Children() {
				if distributeShardsLike(collection) != "" {
					continue
				}
				replFactor, err := collection.GetUInt("replicationFactor")
				if err != nil {
					continue
				}
				if replFactor > uint64(remaining) {
					return fmt.Sprintf(
						"cannot accomodate shards of %s/%s with replication factor %d on %d remaining servers after cleaning out %s",
						dbName, colName, replFactor, remaining, j.server), false
				}
			}
		}
	}

	return "", true
}

// Start verifies feasibility, performs the ToDo -> Pending transition
// while acquiring the server block, and schedules one MoveShard per
// affected shard.
func (j *CleanOutServer) Start() bool {
	if reason, ok := j.checkFeasibility(); !ok {
		j.finish("DBServers/"+j.server, false, reason)
		return false
	}

	doc := j.jobDoc()
	if doc == nil {
		doc = map[string]interface{}{
			"type":    j.jobType,
			"jobId":   j.jobID,
			"creator": j.creator,
			"server":  j.server,
		}
	}

	// The sole precondition: nobody else holds the server.
	tx := store.NewTransaction().
		Set(agencyPrefix+pendingPrefix+j.jobID, pendingDoc(doc)).
		Delete(agencyPrefix+toDoPrefix+j.jobID).
		Set(agencyPrefix+blockedServersPrefix+j.server, map[string]interface{}{"jobId": j.jobID}).
		OldEmpty(agencyPrefix+blockedServersPrefix+j.server, true).
		Commit()

	res := j.agent.Write([]store.Transaction{tx})
	if !res.Successful() {
		j.logger.Info().Msg("Precondition failed for starting job, retrying next round")
		return false
	}
	j.status = StatusPending
	j.justStarted = true
	j.logger.Info().Str("server", j.server).Msg("Pending: clean out server")

	if !j.scheduleMoveShards() {
		j.finish("DBServers/"+j.server, false, "could not schedule MoveShard sub-jobs")
		return false
	}
	return true
}

// scheduleMoveShards emits one MoveShard sub-job per shard replica held by
// the server. Destinations are drawn uniformly at random from the
// available servers not already holding the shard.
func (j *CleanOutServer) scheduleMoveShards() bool {
	servers := availableServers(j.snapshot)
	if len(servers) <= 1 {
		j.logger.Error().Str("server", j.server).Msg("Last standing db server")
		return false
	}

	databases, ok := j.snapshot.Get(planColPrefix)
	if !ok {
		return true
	}

	sub := 0
	for dbName, database := range databases.Children() {
		for colName, collection := range database.Children() {
			if distributeShardsLike(collection) != "" {
				// Dependent layouts only follow their prototype.
				continue
			}
			shards, ok := collection.Get("shards")
			if !ok {
				continue
			}
			for shardName, shardNode := range shards.Children() {
				replicas, err := shardNode.GetStringArray("")
				if err != nil {
					continue
				}

				held := -1
				holding := make(map[string]bool, len(replicas))
				for i, r := range replicas {
					holding[r] = true
					if r == j.server {
						held = i
					}
				}
				if held == -1 {
					continue
				}

				var candidates []string
				for _, s := range servers {
					if !holding[s] {
						candidates = append(candidates, s)
					}
				}
				if len(candidates) == 0 {
					j.logger.Error().Str("shard", shardName).
						Msg("No servers remain as target for MoveShard")
					return false
				}
				toServer := candidates[j.rng.Intn(len(candidates))]

				child := NewMoveShard(j.snapshot, j.agent,
					j.jobID+"-"+strconv.Itoa(sub), j.jobID,
					dbName, colName, shardName, j.server, toServer, held == 0)
				if !child.Create() {
					return false
				}
				sub++
			}
		}
	}
	return true
}

// childIDs lists the sub-jobs under a status root carrying this job's id
// prefix.
func (j *CleanOutServer) childIDs(prefix string) []string {
	var ids []string
	node, ok := j.snapshot.Get(prefix)
	if !ok {
		return nil
	}
	for name := range node.Children() {
		if strings.HasPrefix(name, j.jobID+"-") {
			ids = append(ids, name)
		}
	}
	return ids
}

// Status drives a pending clean-out to completion: a failed sub-job fails
// the parent, a stalled clean-out is surfaced after the supervision job
// timeout, and once no sub-job remains open the server is appended to
// Target/CleanedServers and the job finishes.
func (j *CleanOutServer) Status() Status {
	if j.status != StatusPending || j.justStarted {
		return j.status
	}

	if failed := j.childIDs(failedPrefix); len(failed) > 0 {
		j.finish("DBServers/"+j.server, false,
			fmt.Sprintf("sub-job %s failed", failed[0]))
		return j.status
	}

	doc := j.jobDoc()
	if doc != nil && startedBefore(doc, j.agent.Config().JobTimeout) {
		j.finish("DBServers/"+j.server, false, "timed out")
		return j.status
	}

	open := len(j.childIDs(toDoPrefix)) + len(j.childIDs(pendingPrefix))
	if open > 0 {
		return j.status
	}

	report := store.NewTransaction().
		Push(agencyPrefix+cleanedServersPath, j.server).
		Commit()
	res := j.agent.Write([]store.Transaction{report})
	if res.Successful() {
		j.logger.Debug().Str("server", j.server).Msg("Reported server in /Target/CleanedServers")
	} else {
		j.logger.Error().Str("server", j.server).Msg("Failed to report server in /Target/CleanedServers")
	}

	j.finish("DBServers/"+j.server, true, "")
	return j.status
}

// Abort cancels the clean-out: sub-jobs still in ToDo are withdrawn in the
// same transaction that moves the parent to Failed and releases the server
// block. Sub-jobs already pending are left to terminate on their own;
// either outcome leaves a valid shard placement.
func (j *CleanOutServer) Abort() {
	if j.status != StatusToDo && j.status != StatusPending {
		return
	}

	doc := j.jobDoc()
	if doc == nil {
		doc = map[string]interface{}{
			"type":    j.jobType,
			"jobId":   j.jobID,
			"creator": j.creator,
			"server":  j.server,
		}
	}
	doc["timeFinished"] = nowStamp()
	doc["reason"] = "job aborted"

	b := store.NewTransaction().
		Set(agencyPrefix+failedPrefix+j.jobID, doc).
		Delete(agencyPrefix+toDoPrefix+j.jobID).
		Delete(agencyPrefix+pendingPrefix+j.jobID).
		Delete(agencyPrefix + blockedServersPrefix + j.server)

	for _, child := range j.childIDs(toDoPrefix) {
		childDoc := map[string]interface{}{}
		if node, ok := j.snapshot.Get(toDoPrefix + child); ok {
			childDoc, _ = node.Export().(map[string]interface{})
		}
		childDoc["timeFinished"] = nowStamp()
		childDoc["reason"] = "parent job aborted"
		b.Set(agencyPrefix+finishedPrefix+child, childDoc).
			Delete(agencyPrefix + toDoPrefix + child)
	}

	res := j.agent.Write([]store.Transaction{b.Commit()})
	if !res.Successful() {
		j.logger.Error().Msg("Failed to abort job")
		return
	}
	j.status = StatusFailed
}
