/*
Package metrics provides Prometheus instrumentation for Quorum.

Collectors cover the three layers: consensus (role, term, elections, vote
traffic, commit index), the transaction engine (applied vs rejected
transactions), and supervision (job transitions by type and status, loop
iterations and their duration).

Call Register once at startup, then expose the default registry:

	metrics.Register()
	go metrics.Serve(":9100")
*/
package metrics
