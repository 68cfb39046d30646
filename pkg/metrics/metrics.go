package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Consensus metrics
	RoleGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorum_role",
			Help: "Consensus role of this agent (0 = follower, 1 = candidate, 2 = leader)",
		},
	)

	TermGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorum_term",
			Help: "Current consensus term",
		},
	)

	ElectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_elections_total",
			Help: "Total number of elections this agent has called",
		},
	)

	VotesRequestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_votes_requested_total",
			Help: "Total vote requests sent to peers by outcome",
		},
		[]string{"outcome"},
	)

	CommitIndexGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quorum_commit_index",
			Help: "Highest committed log index",
		},
	)

	// Store metrics
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_transactions_total",
			Help: "Total transactions by result",
		},
		[]string{"result"},
	)

	// Supervision metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quorum_jobs_total",
			Help: "Total supervision job transitions by type and status",
		},
		[]string{"type", "status"},
	)

	SupervisionRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quorum_supervision_runs_total",
			Help: "Total supervision loop iterations",
		},
	)

	SupervisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quorum_supervision_duration_seconds",
			Help:    "Duration of supervision loop iterations",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the default registry
func Register() {
	prometheus.MustRegister(
		RoleGauge,
		TermGauge,
		ElectionsTotal,
		VotesRequestedTotal,
		CommitIndexGauge,
		TransactionsTotal,
		JobsTotal,
		SupervisionRunsTotal,
		SupervisionDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts the metrics HTTP server on the given address
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates and starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the given histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
