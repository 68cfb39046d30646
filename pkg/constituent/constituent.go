package constituent

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/events"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/metrics"
	"github.com/cuemby/quorum/pkg/storage"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/rs/zerolog"
)

// bootstrapPoll is the wait between readiness checks before the role loop
// starts.
const bootstrapPoll = 50 * time.Millisecond

// Constituent owns an agent's consensus role. A single background task
// drives the follower/candidate/leader transitions; all role, term and
// vote state is guarded by one mutex and is never observed in a
// partially-updated pair.
type Constituent struct {
	mu sync.Mutex // guards term, role, leaderID, cast, votedFor, lastHeartbeat

	term          uint64
	role          types.Role
	leaderID      string
	votedFor      string
	cast          bool
	lastHeartbeat time.Time

	id        string
	agent     agent.Interface
	transport Transport
	records   storage.Store
	broker    *events.Broker
	rng       *rand.Rand
	logger    zerolog.Logger

	wakeCh   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a constituent. The seeded rng drives election timing and is
// injected so tests can be deterministic. The broker may be nil.
func New(ag agent.Interface, tr Transport, records storage.Store, broker *events.Broker, rng *rand.Rand) *Constituent {
	id := ag.Config().ID
	return &Constituent{
		id:        id,
		role:      types.RoleFollower,
		leaderID:  types.NoLeader,
		agent:     ag,
		transport: tr,
		records:   records,
		broker:    broker,
		rng:       rng,
		logger:    log.WithComponent("constituent").With().Str("agent_id", id).Logger(),
		wakeCh:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Term returns the current term.
func (c *Constituent) Term() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.term
}

// Role returns the current role.
func (c *Constituent) Role() types.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Leading reports whether this agent is the leader.
func (c *Constituent) Leading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == types.RoleLeader
}

// Following reports whether this agent is a follower.
func (c *Constituent) Following() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == types.RoleFollower
}

// Running reports whether this agent is a candidate.
func (c *Constituent) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role == types.RoleCandidate
}

// LeaderID returns the id of the known leader, or NoLeader.
func (c *Constituent) LeaderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderID
}

// wake signals the role loop.
func (c *Constituent) wake() {
	select {
	case c.wakeCh <- struct{}{}:
	default:
	}
}

// fail aborts the role task. Used when the election record cannot be
// persisted; running without a durable vote would risk double voting.
func (c *Constituent) fail(err error) {
	c.logger.Error().Err(err).Msg("Fatal: failed to persist election record, stopping role task")
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// persistLocked writes the current term/vote pair.
func (c *Constituent) persistLocked() error {
	return c.records.SaveElectionRecord(&types.ElectionRecord{
		Term:     c.term,
		VotedFor: c.votedFor,
	})
}

// setTermLocked raises the term and clears the vote. Each change is
// persisted before it takes effect for voting.
func (c *Constituent) setTermLocked(t uint64) error {
	if c.term == t {
		return nil
	}
	c.term = t
	c.cast = false
	c.votedFor = ""
	metrics.TermGauge.Set(float64(t))
	c.logger.Debug().Uint64("term", t).Str("role", c.role.String()).Msg("Term raised")
	return c.persistLocked()
}

// followLocked converts to follower in term t.
func (c *Constituent) followLocked(t uint64) {
	if c.role != types.RoleFollower {
		c.logger.Info().Uint64("term", t).Msg("Converting to follower")
	}
	if t > c.term {
		if err := c.persistTermLocked(t); err != nil {
			return
		}
	}
	c.role = types.RoleFollower
	metrics.RoleGauge.Set(float64(types.RoleFollower))
	c.wake()
}

// persistTermLocked raises the term and triggers fail on persistence
// errors.
func (c *Constituent) persistTermLocked(t uint64) error {
	if err := c.setTermLocked(t); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Follow converts to follower in term t.
func (c *Constituent) Follow(t uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.followLocked(t)
}

// candidateLocked converts to candidate, clearing the known leader.
func (c *Constituent) candidateLocked() {
	if c.leaderID != types.NoLeader {
		c.logger.Info().Msg("Set leader to NO_LEADER")
		c.leaderID = types.NoLeader
	}
	if c.role != types.RoleCandidate {
		c.role = types.RoleCandidate
		metrics.RoleGauge.Set(float64(types.RoleCandidate))
		c.logger.Info().Uint64("term", c.term).Msg("Converting to candidate")
	}
}

// lead converts to leader for the given candidacy term and rebuilds the
// agent's leader views.
func (c *Constituent) lead(term uint64) {
	c.mu.Lock()
	if term < c.term {
		c.followLocked(c.term)
		c.mu.Unlock()
		return
	}
	if c.role == types.RoleLeader {
		c.mu.Unlock()
		return
	}
	c.role = types.RoleLeader
	c.leaderID = c.id
	metrics.RoleGauge.Set(float64(types.RoleLeader))
	c.logger.Info().Uint64("term", c.term).Msg("Converted to leader")
	c.mu.Unlock()

	// Rebuild the agent's spearhead from its committed read view.
	c.agent.Lead()
	c.publish(events.EventRoleLeader, term)
}

func (c *Constituent) publish(t events.EventType, term uint64) {
	if c.broker == nil {
		return
	}
	c.broker.Publish(&events.Event{
		Type:    t,
		Message: c.id,
		Metadata: map[string]string{
			"agent_id": c.id,
			"term":     strconv.FormatUint(term, 10),
		},
	})
}

// CheckLeader processes a leadership assertion (a heartbeat from the
// replication layer). A term at least as high as ours refreshes the
// heartbeat clock and adopts the sender as leader.
func (c *Constituent) CheckLeader(term uint64, id string, prevLogIndex, prevLogTerm uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if term < c.term {
		return false
	}
	if term > c.term {
		if err := c.persistTermLocked(term); err != nil {
			return false
		}
	}
	if c.role != types.RoleFollower {
		c.followLocked(c.term)
	}
	c.lastHeartbeat = time.Now()
	if c.leaderID != id {
		c.logger.Info().Str("leader_id", id).Uint64("term", c.term).Msg("Set leader")
		c.leaderID = id
	}
	c.wake()
	return true
}

// Vote processes a vote request. The request term is compared against the
// current term, and a candidate whose log is behind ours is denied; a
// repeated request from the candidate we voted for this term is granted
// again.
func (c *Constituent) Vote(req types.VoteRequest) types.VoteResponse {
	// Read the log position before taking the cast lock; the agent
	// acquires its own lock and may itself consult our role.
	last := c.agent.LastLog()

	c.mu.Lock()
	defer c.mu.Unlock()

	if req.Term < c.term {
		return types.VoteResponse{Term: c.term, VoteGranted: false}
	}
	logCurrent := req.PrevLogTerm > last.Term ||
		(req.PrevLogTerm == last.Term && req.PrevLogIndex >= last.Index)

	if req.Term > c.term {
		if err := c.persistTermLocked(req.Term); err != nil {
			return types.VoteResponse{Term: c.term, VoteGranted: false}
		}
		if c.role != types.RoleFollower {
			c.followLocked(c.term)
		}
		if !logCurrent {
			return types.VoteResponse{Term: c.term, VoteGranted: false}
		}
		return c.grantLocked(req.CandidateID)
	}

	// Same term.
	if c.cast {
		if c.votedFor == req.CandidateID {
			if c.role != types.RoleFollower {
				c.followLocked(c.term)
			}
			return types.VoteResponse{Term: c.term, VoteGranted: true}
		}
		return types.VoteResponse{Term: c.term, VoteGranted: false}
	}
	if !logCurrent {
		return types.VoteResponse{Term: c.term, VoteGranted: false}
	}
	if c.role != types.RoleFollower {
		c.followLocked(c.term)
	}
	return c.grantLocked(req.CandidateID)
}

func (c *Constituent) grantLocked(candidateID string) types.VoteResponse {
	c.cast = true
	c.votedFor = candidateID
	if err := c.persistLocked(); err != nil {
		c.fail(err)
		return types.VoteResponse{Term: c.term, VoteGranted: false}
	}
	c.logger.Debug().Str("candidate_id", candidateID).Uint64("term", c.term).Msg("Vote granted")
	return types.VoteResponse{Term: c.term, VoteGranted: true}
}

// callElection runs for office: raise the term, vote for ourselves, ask
// every active peer, and count the replies against a hard deadline.
func (c *Constituent) callElection() {
	cfg := c.agent.Config()

	c.mu.Lock()
	c.leaderID = types.NoLeader
	if err := c.persistTermLocked(c.term + 1); err != nil {
		c.mu.Unlock()
		return
	}
	c.cast = true
	c.votedFor = c.id
	if err := c.persistLocked(); err != nil {
		c.fail(err)
		c.mu.Unlock()
		return
	}
	savedTerm := c.term
	c.mu.Unlock()

	metrics.ElectionsTotal.Inc()
	c.logger.Info().Uint64("term", savedTerm).Msg("Calling election")

	last := c.agent.LastLog()
	req := types.VoteRequest{
		Term:         savedTerm,
		CandidateID:  c.id,
		PrevLogIndex: last.Index,
		PrevLogTerm:  last.Term,
	}

	respTimeout := time.Duration(0.9 * cfg.MinPing * float64(time.Second))
	initTimeout := time.Duration(0.5 * cfg.MinPing * float64(time.Second))

	type reply struct {
		id   string
		resp types.VoteResponse
		err  error
	}

	peers := make([]string, 0, len(cfg.Active))
	for _, peer := range cfg.Active {
		if peer != c.id {
			peers = append(peers, peer)
		}
	}

	replyCh := make(chan reply, len(peers))
	for _, peer := range peers {
		go func(peer string) {
			ctx, cancel := context.WithTimeout(context.Background(), respTimeout)
			defer cancel()
			resp, err := c.transport.RequestVote(ctx, cfg.PoolAt(peer), req)
			replyCh <- reply{id: peer, resp: resp, err: err}
		}(peer)
	}

	// Collect replies against a hard deadline, randomized between the
	// two election timeouts. A peer that has not answered by then counts
	// as a denied vote.
	deadline := initTimeout + time.Duration(c.rng.Int63n(int64(respTimeout-initTimeout)+1))
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	granted := 1 // our own vote
	outstanding := len(peers)

collect:
	for outstanding > 0 {
		select {
		case r := <-replyCh:
			outstanding--
			if r.err != nil {
				// A failed peer RPC is a missing vote, never fatal.
				metrics.VotesRequestedTotal.WithLabelValues("error").Inc()
				c.logger.Debug().Err(r.err).Str("peer_id", r.id).Msg("Vote request failed")
				continue
			}
			if r.resp.Term > savedTerm {
				c.logger.Info().Uint64("term", r.resp.Term).Str("peer_id", r.id).
					Msg("Peer reported higher term, abandoning election")
				c.Follow(r.resp.Term)
				return
			}
			if r.resp.VoteGranted {
				metrics.VotesRequestedTotal.WithLabelValues("granted").Inc()
				granted++
			} else {
				metrics.VotesRequestedTotal.WithLabelValues("denied").Inc()
			}
		case <-timer.C:
			break collect
		case <-c.stopCh:
			return
		}
	}

	c.mu.Lock()
	if savedTerm != c.term {
		c.followLocked(c.term)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if granted > cfg.Size/2 {
		c.lead(savedTerm)
	} else {
		c.logger.Info().Int("granted", granted).Int("size", cfg.Size).
			Uint64("term", savedTerm).Msg("Election lost")
		c.Follow(savedTerm)
	}
}

// Start seeds term and vote from the most recent persisted election record
// and launches the role task.
func (c *Constituent) Start() error {
	rec, err := c.records.LatestElectionRecord()
	if err != nil {
		return err
	}
	if rec != nil {
		c.mu.Lock()
		c.term = rec.Term
		c.votedFor = rec.VotedFor
		c.cast = rec.VotedFor != ""
		metrics.TermGauge.Set(float64(c.term))
		c.mu.Unlock()
		c.logger.Info().Uint64("term", rec.Term).Msg("Restored election record")
	}

	go c.run()
	return nil
}

// Stop requests a cooperative shutdown and waits for the role task.
func (c *Constituent) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wake()
	<-c.doneCh
}

func (c *Constituent) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// run is the role task. It blocks until the agent is ready and this id is
// active, then drives the election state machine.
func (c *Constituent) run() {
	defer close(c.doneCh)

	cfg := c.agent.Config()
	for !c.stopping() && (!c.agent.Ready() || !cfg.IsActive(c.id)) {
		select {
		case <-time.After(bootstrapPoll):
		case <-c.stopCh:
			return
		}
	}
	if c.stopping() {
		return
	}

	if cfg.Size == 1 {
		// A cluster of one has nothing to elect.
		c.mu.Lock()
		c.role = types.RoleLeader
		c.leaderID = c.id
		metrics.RoleGauge.Set(float64(types.RoleLeader))
		term := c.term
		c.mu.Unlock()
		c.logger.Info().Uint64("term", term).Msg("Single-agent cluster, assuming leadership")
		c.agent.Lead()
		c.publish(events.EventRoleLeader, term)
		<-c.stopCh
		return
	}

	c.logger.Info().Msg("Role task started")
	lastRole := types.RoleFollower
	lastTerm := c.Term()
	for !c.stopping() {
		if term := c.Term(); term != lastTerm {
			c.publish(events.EventTermChanged, term)
			lastTerm = term
		}
		role := c.Role()
		if role != lastRole {
			// The leader event is published by lead itself, right after
			// the agent views are rebuilt.
			switch role {
			case types.RoleFollower:
				c.publish(events.EventRoleFollower, lastTerm)
			case types.RoleCandidate:
				c.publish(events.EventRoleCandidate, lastTerm)
			}
			lastRole = role
		}

		switch role {
		case types.RoleFollower:
			c.followerWait(cfg)
		case types.RoleCandidate:
			c.callElection()
		default: // leader
			idle := time.Duration(0.1 * cfg.MinPing * float64(time.Second))
			select {
			case <-time.After(idle):
			case <-c.wakeCh:
			case <-c.stopCh:
			}
		}
	}
	c.logger.Info().Msg("Role task stopped")
}

// followerWait sleeps a random election timeout, deducting the time since
// the last heartbeat, and converts to candidate when no heartbeat
// intervened.
func (c *Constituent) followerWait(cfg *types.Config) {
	minWait := cfg.MinPingDuration()
	maxWait := cfg.MaxPingDuration()
	randWait := minWait + time.Duration(c.rng.Int63n(int64(maxWait-minWait)+1))

	c.mu.Lock()
	lastHB := c.lastHeartbeat
	c.mu.Unlock()

	wait := randWait
	if !lastHB.IsZero() {
		wait -= time.Since(lastHB)
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-c.wakeCh:
		case <-c.stopCh:
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHeartbeat.IsZero() || time.Since(c.lastHeartbeat) > randWait {
		c.candidateLocked()
	}
}
