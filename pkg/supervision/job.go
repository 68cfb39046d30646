package supervision

import (
	"time"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/store"
	"github.com/rs/zerolog"
)

// Replicated-tree paths. Snapshot reads are relative to the agency root
// node; emitted transaction paths carry the agency prefix.
const (
	agencyPrefix = "/arango"

	toDoPrefix     = "/Target/ToDo/"
	pendingPrefix  = "/Target/Pending/"
	finishedPrefix = "/Target/Finished/"
	failedPrefix   = "/Target/Failed/"

	cleanedServersPath = "/Target/CleanedServers"
	failedServersPath  = "/Target/FailedServers"

	planColPrefix       = "/Plan/Collections"
	planDBServersPrefix = "/Plan/DBServers/"

	blockedServersPrefix = "/Supervision/DBServers/"
	blockedShardsPrefix  = "/Supervision/Shards/"
	healthPrefix         = "/Supervision/Health/"

	serverStatePrefix = "/Sync/ServerStates/"
)

// HealthGood is the health state a server must report to receive new
// shard replicas.
const HealthGood = "GOOD"

// Status is a supervision job's lifecycle state. A job lives under exactly
// one status root at any time.
type Status int

const (
	StatusToDo Status = iota
	StatusPending
	StatusFinished
	StatusFailed
	StatusNotFound
)

var statusNames = [...]string{"ToDo", "Pending", "Finished", "Failed", "NotFound"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "Unknown"
}

// prefix returns the tree prefix of a status root.
func (s Status) prefix() string {
	switch s {
	case StatusToDo:
		return toDoPrefix
	case StatusPending:
		return pendingPrefix
	case StatusFinished:
		return finishedPrefix
	case StatusFailed:
		return failedPrefix
	default:
		return ""
	}
}

// Job is the capability surface of a supervision job. Create inserts the
// job document into ToDo; Start attempts the ToDo -> Pending transition and
// runs the planner; Status advances or reports a pending job; Abort
// cancels what can still be cancelled.
type Job interface {
	Create() bool
	Start() bool
	Status() Status
	Abort()
	Type() string
	ID() string
}

// baseJob carries the identity and collaborators every job shares.
type baseJob struct {
	snapshot *store.Node
	agent    agent.Interface
	status   Status
	jobID    string
	creator  string
	jobType  string
	logger   zerolog.Logger
}

func newBaseJob(snapshot *store.Node, ag agent.Interface, status Status, jobID, creator, jobType string) baseJob {
	return baseJob{
		snapshot: snapshot,
		agent:    ag,
		status:   status,
		jobID:    jobID,
		creator:  creator,
		jobType:  jobType,
		logger:   log.WithComponent("supervision").With().Str("job_id", jobID).Str("job_type", jobType).Logger(),
	}
}

// ID returns the job id.
func (j *baseJob) ID() string { return j.jobID }

// Type returns the job type tag.
func (j *baseJob) Type() string { return j.jobType }

// nowStamp formats the current time the way job documents carry it.
func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// jobDoc reads the job document from its current status root. Returns nil
// when the document is gone.
func (j *baseJob) jobDoc() map[string]interface{} {
	node, ok := j.snapshot.Get(j.status.prefix() + j.jobID)
	if !ok {
		return nil
	}
	doc, _ := node.Export().(map[string]interface{})
	return doc
}

// insertToDo emits the single-transaction write that creates the job
// document under ToDo. No preconditions: the path is keyed by jobID, so a
// retried create simply overwrites the identical document.
func (j *baseJob) insertToDo(doc map[string]interface{}) bool {
	doc["type"] = j.jobType
	doc["jobId"] = j.jobID
	doc["creator"] = j.creator
	doc["timeCreated"] = nowStamp()

	tx := store.NewTransaction().
		Set(agencyPrefix+toDoPrefix+j.jobID, doc).
		Commit()

	res := j.agent.Write([]store.Transaction{tx})
	if !res.Successful() {
		j.logger.Info().Msg("Failed to insert job")
		return false
	}
	j.status = StatusToDo
	metrics.JobsTotal.WithLabelValues(j.jobType, StatusToDo.String()).Inc()
	return true
}

// finish moves the job to its terminal status in one transaction: the
// terminal document is created, the ToDo and Pending copies are deleted,
// and the held resource block (if any) is released. blockPath is relative
// to /Supervision, e.g. "DBServers/leader".
func (j *baseJob) finish(blockPath string, success bool, reason string) bool {
	target := failedPrefix
	status := StatusFailed
	if success {
		target = finishedPrefix
		status = StatusFinished
	}

	doc := j.jobDoc()
	if doc == nil {
		doc = map[string]interface{}{
			"type":    j.jobType,
			"jobId":   j.jobID,
			"creator": j.creator,
		}
	}
	doc["timeFinished"] = nowStamp()
	if reason != "" {
		doc["reason"] = reason
	}

	b := store.NewTransaction().
		Set(agencyPrefix+target+j.jobID, doc).
		Delete(agencyPrefix + toDoPrefix + j.jobID).
		Delete(agencyPrefix + pendingPrefix + j.jobID)
	if blockPath != "" {
		b.Delete(agencyPrefix + "/Supervision/" + blockPath)
	}

	res := j.agent.Write([]store.Transaction{b.Commit()})
	if !res.Successful() {
		j.logger.Error().Bool("success", success).Msg("Failed to write terminal job transition")
		return false
	}

	if !success {
		j.logger.Info().Str("reason", reason).Msg("Job failed")
	}
	j.status = status
	metrics.JobsTotal.WithLabelValues(j.jobType, status.String()).Inc()
	return true
}

// pendingDoc assembles the Pending copy of a document with timeStarted
// added.
func pendingDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	out["timeStarted"] = nowStamp()
	return out
}

// blocked reports whether a resource block record exists. path is relative
// to /Supervision, e.g. "Shards/shard".
func blocked(snapshot *store.Node, path string) bool {
	node, ok := snapshot.Get("/Supervision/" + path)
	if !ok {
		return false
	}
	return !node.IsObject() || len(node.Children()) > 0
}

// healthOf reads a server's health state. Both a plain string leaf and a
// record with a Status field are accepted.
func healthOf(snapshot *store.Node, server string) string {
	if s, err := snapshot.GetString(healthPrefix + server); err == nil {
		return s
	}
	s, err := snapshot.GetString(healthPrefix + server + "/Status")
	if err != nil {
		return ""
	}
	return s
}

// availableServers lists the servers in the plan that have not been
// cleaned out or recorded as failed.
func availableServers(snapshot *store.Node) []string {
	excluded := make(map[string]bool)
	if cleaned, err := snapshot.GetStringArray(cleanedServersPath); err == nil {
		for _, s := range cleaned {
			excluded[s] = true
		}
	}
	if failed, ok := snapshot.Get(failedServersPath); ok {
		for name := range failed.Children() {
			excluded[name] = true
		}
	}

	var servers []string
	if plan, ok := snapshot.Get("/Plan/DBServers"); ok {
		for name := range plan.Children() {
			if !excluded[name] {
				servers = append(servers, name)
			}
		}
	}
	return servers
}

// distributeShardsLike reads the collection's layout dependency; empty
// means the collection plans its own shards.
func distributeShardsLike(collection *store.Node) string {
	s, err := collection.GetString("distributeShardsLike")
	if err != nil {
		return ""
	}
	return s
}

// startedBefore reports whether the pending document's timeStarted is
// older than the given deadline.
func startedBefore(doc map[string]interface{}, maxAge time.Duration) bool {
	raw, ok := doc["timeStarted"].(string)
	if !ok {
		return false
	}
	started, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false
	}
	return time.Since(started) > maxAge
}
