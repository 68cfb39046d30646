package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/quorum/pkg/agent"
	"github.com/cuemby/quorum/pkg/constituent"
	"github.com/cuemby/quorum/pkg/log"
	"github.com/cuemby/quorum/pkg/types"
	"github.com/rs/zerolog"
)

// Server exposes the agency over HTTP: the privileged vote endpoint for
// peers and the read/write/config endpoints for clients.
type Server struct {
	agent       agent.Interface
	constituent *constituent.Constituent
	httpServer  *http.Server
	logger      zerolog.Logger
}

// NewServer creates a server bound to addr.
func NewServer(addr string, ag agent.Interface, c *constituent.Constituent) *Server {
	s := &Server{
		agent:       ag,
		constituent: c,
		logger:      log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(constituent.RequestVotePath, s.handleRequestVote)
	mux.HandleFunc("/_api/agency/read", s.handleRead)
	mux.HandleFunc("/_api/agency/write", s.handleWrite)
	mux.HandleFunc("/_api/agency/config", s.handleConfig)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server started")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the server's handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleRequestVote answers GET /_api/agency_priv/requestVote.
func (s *Server) handleRequestVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	term, err := strconv.ParseUint(q.Get("term"), 10, 64)
	if err != nil {
		http.Error(w, "invalid term", http.StatusBadRequest)
		return
	}
	prevLogIndex, _ := strconv.ParseUint(q.Get("prevLogIndex"), 10, 64)
	prevLogTerm, _ := strconv.ParseUint(q.Get("prevLogTerm"), 10, 64)

	resp := s.constituent.Vote(types.VoteRequest{
		Term:         term,
		CandidateID:  q.Get("candidateId"),
		PrevLogIndex: prevLogIndex,
		PrevLogTerm:  prevLogTerm,
	})
	writeJSON(w, http.StatusOK, resp)
}

// handleRead answers POST /_api/agency/read with a JSON array of paths,
// returning one exported subtree per path. Absent paths yield null.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var paths []string
	if err := json.Unmarshal(body, &paths); err != nil {
		http.Error(w, "expected a JSON array of paths", http.StatusBadRequest)
		return
	}

	snapshot := s.agent.Snapshot()
	results := make([]interface{}, len(paths))
	for i, path := range paths {
		if node, ok := snapshot.Get(path); ok {
			results[i] = node.Export()
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleWrite answers POST /_api/agency/write with a transaction batch.
// Followers answer 503 with the known leader so clients can redirect.
func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	txs, err := decodeTransactions(body)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Rejected malformed write")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res := s.agent.Write(txs)
	if !res.Accepted {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"error":    "not the leader",
			"leaderId": s.constituent.LeaderID(),
		})
		return
	}

	maxIndex := uint64(0)
	for _, idx := range res.Indices {
		if idx > maxIndex {
			maxIndex = idx
		}
	}
	if maxIndex > 0 {
		s.agent.WaitFor(maxIndex)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": res.Indices,
	})
}

// handleConfig answers GET /_api/agency/config.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.agent.Config()
	last := s.agent.LastLog()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       cfg.ID,
		"size":     cfg.Size,
		"active":   cfg.Active,
		"pool":     cfg.Pool,
		"minPing":  cfg.MinPing,
		"maxPing":  cfg.MaxPing,
		"term":     s.constituent.Term(),
		"role":     s.constituent.Role().String(),
		"leaderId": s.constituent.LeaderID(),
		"lastLog":  map[string]uint64{"index": last.Index, "term": last.Term},
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
