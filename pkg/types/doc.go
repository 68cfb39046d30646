/*
Package types defines the shared data structures for Quorum's consensus core
and supervision engine.

The package carries the agent configuration (id, cluster membership, ping
intervals), the consensus role and replicated-log entry types, and the wire
structures for the vote RPC. It has no dependencies on other Quorum packages
so every layer can import it.

Configuration can be loaded from a YAML file:

	id: "agent-1"
	size: 3
	active: ["agent-1", "agent-2", "agent-3"]
	pool:
	  agent-1: "http://10.0.0.1:8529"
	  agent-2: "http://10.0.0.2:8529"
	  agent-3: "http://10.0.0.3:8529"
	min_ping: 1.0
	max_ping: 5.0
*/
package types
