package supervision

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/events"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Supervisor drives maintenance jobs against the agency tree. It runs on
// every agent but acts only while this agent leads: each tick takes a
// consistent snapshot, starts jobs waiting in ToDo, advances pending
// jobs, and plans recovery for newly failed servers.
type Supervisor struct {
	agent  agent.Interface
	roles  agent.RoleSource
	broker *events.Broker
	rng    *rand.Rand
	logger zerolog.Logger

	interval time.Duration
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewSupervisor creates a supervisor. The broker may be nil; the seeded
// rng is threaded into job planners for deterministic tests.
func NewSupervisor(ag agent.Interface, roles agent.RoleSource, broker *events.Broker, rng *rand.Rand, interval time.Duration) *Supervisor {
	return &Supervisor{
		agent:    ag,
		roles:    roles,
		broker:   broker,
		rng:      rng,
		logger:   log.WithComponent("supervision"),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the supervision loop
func (s *Supervisor) Start() {
	go s.run()
}

// Stop stops the supervisor
func (s *Supervisor) Stop() {
	close(s.stopCh)
}

// run is the main supervision loop
func (s *Supervisor) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Msg("Supervision started")

	for {
		select {
		case <-ticker.C:
			if !s.roles.Leading() {
				continue
			}
			s.runOnce()
		case <-s.stopCh:
			s.logger.Info().Msg("Supervision stopped")
			return
		}
	}
}

// runOnce performs one supervision tick.
func (s *Supervisor) runOnce() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SupervisionDuration)
		metrics.SupervisionRunsTotal.Inc()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.agent.Snapshot()
	agency, ok := root.Get(agencyPrefix)
	if !ok {
		return
	}

	s.recordFailedServers(agency)

	if todos, ok := agency.Get(toDoPrefix); ok {
		for jobID := range todos.Children() {
			job := s.resume(agency, StatusToDo, jobID)
			if job == nil {
				continue
			}
			job.Start()
			// Immediate-completion jobs terminate inside Start.
			switch job.Status() {
			case StatusPending:
				s.publish(events.EventJobStarted, job)
			case StatusFinished:
				s.publish(events.EventJobFinished, job)
			case StatusFailed:
				s.publish(events.EventJobFailed, job)
			}
		}
	}

	if pends, ok := agency.Get(pendingPrefix); ok {
		for jobID := range pends.Children() {
			job := s.resume(agency, StatusPending, jobID)
			if job == nil {
				continue
			}
			switch job.Status() {
			case StatusFinished:
				s.publish(events.EventJobFinished, job)
			case StatusFailed:
				s.publish(events.EventJobFailed, job)
			}
		}
	}
}

// resume reconstructs a job from the snapshot by its type tag. Unknown
// types are logged and skipped; the document stays where it is for an
// operator to inspect.
func (s *Supervisor) resume(agency *store.Node, status Status, jobID string) Job {
	jobType, err := agency.GetString(status.prefix() + jobID + "/type")
	if err != nil {
		s.logger.Error().Str("job_id", jobID).Err(err).Msg("Job document carries no type")
		return nil
	}

	switch jobType {
	case JobTypeAddFollower:
		return ResumeAddFollower(agency, s.agent, status, jobID)
	case JobTypeMoveShard:
		return ResumeMoveShard(agency, s.agent, status, jobID)
	case JobTypeCleanOutServer:
		return ResumeCleanOutServer(agency, s.agent, status, jobID, s.rng)
	case JobTypeFailedLeader:
		return ResumeFailedLeader(agency, s.agent, status, jobID)
	default:
		s.logger.Warn().Str("job_id", jobID).Str("job_type", jobType).Msg("Unknown job type")
		return nil
	}
}

// recordFailedServers mirrors FAILED health states into
// Target/FailedServers and plans FailedLeader jobs for the shards the
// failed server leads.
func (s *Supervisor) recordFailedServers(agency *store.Node) {
	health, ok := agency.Get("/Supervision/Health")
	if !ok {
		return
	}

	for server := range health.Children() {
		if healthOf(agency, server) != "FAILED" {
			continue
		}
		if failed, ok := agency.Get(failedServersPath); ok {
			if _, recorded := failed.Children()[server]; recorded {
				continue
			}
		}

		tx := store.NewTransaction().
			Set(agencyPrefix+failedServersPath+"/"+server, map[string]interface{}{
				"timeObserved": nowStamp(),
			}).
			OldEmpty(agencyPrefix+failedServersPath+"/"+server, true).
			Commit()
		if !s.agent.Write([]store.Transaction{tx}).Successful() {
			continue
		}
		s.logger.Warn().Str("server_id", server).Msg("Recorded failed server")

		s.planFailedLeaders(agency, server)
	}
}

// planFailedLeaders creates one FailedLeader job per shard the failed
// server currently leads.
func (s *Supervisor) planFailedLeaders(agency *store.Node, server string) {
	databases, ok := agency.Get(planColPrefix)
	if !ok {
		return
	}
	for dbName, database := range databases.Children() {
		for colName, collection := range database.Children() {
			if distributeShardsLike(collection) != "" {
				continue
			}
			shards, ok := collection.Get("shards")
			if !ok {
				continue
			}
			for shardName, shardNode := range shards.Children() {
				replicas, err := shardNode.GetStringArray("")
				if err != nil || len(replicas) == 0 || replicas[0] != server {
					continue
				}
				job := NewFailedLeader(agency, s.agent, uuid.NewString(), "supervision",
					dbName, colName, shardName, server)
				if job.Create() {
					s.publish(events.EventJobCreated, job)
				}
			}
		}
	}
}

func (s *Supervisor) publish(t events.EventType, job Job) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    t,
		Message: job.ID(),
		Metadata: map[string]string{
			"job_id":   job.ID(),
			"job_type": job.Type(),
		},
	})
}
