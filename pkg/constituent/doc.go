/*
Package constituent implements the Raft-style role machine of an agent.

A single background task owns the follower/candidate/leader transitions.
One mutex guards the term, role, leader id, vote record and heartbeat
clock, so those fields are never observed in a partially-updated pair.

A follower sleeps a random interval in [minPing, maxPing], deducting the
time since the last observed heartbeat; when the interval expires without
a heartbeat it converts to candidate. A candidate raises its term, votes
for itself, persists the election record, and asks every active peer for
its vote. Peer calls run concurrently; the collector awaits the batch
against a randomized hard deadline and counts unreturned or failed calls
as denied. A majority converts the candidate to leader and invokes the
agent's Lead hook; a higher term observed anywhere converts immediately
to follower at that term.

The vote rule follows Raft: a request below our term is denied; a request
above our term first adopts the term (clearing the vote); within a term at
most one candidate receives the vote, repeated requests from that candidate
are granted idempotently, and candidates whose (prevLogTerm, prevLogIndex)
is behind our last log entry are denied.

Term and vote changes are durable before they take effect: each writes an
election record keyed by the zero-padded term through pkg/storage. A
persistence failure aborts the role task, since voting without a durable
record could grant two votes for one term.

A cluster of size one skips the machinery and assumes leadership at once.
*/
package constituent
