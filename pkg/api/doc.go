/*
Package api exposes the agency over HTTP.

Endpoints:

  - GET  /_api/agency_priv/requestVote — the privileged vote RPC peers use
    during elections; query parameters term, candidateId, prevLogIndex,
    prevLogTerm, JSON response {term, voteGranted}.
  - POST /_api/agency/read — JSON array of paths, answered with one
    exported subtree per path from a consistent snapshot.
  - POST /_api/agency/write — a transaction batch in wire form (arrays of
    [writes, preconditions] objects); the response carries one log index
    per transaction, 0 for rejected. Followers answer 503 with the known
    leader id.
  - GET  /_api/agency/config — configuration, role, term and log position.

The handlers are thin translations onto pkg/agent and pkg/constituent; the
listen/accept plumbing is a plain http.Server.
*/
package api
