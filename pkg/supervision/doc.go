/*
Package supervision implements the leader-side engine that plans and
commits cluster reconfigurations through conditional transactions on the
agency tree.

A job is a document under one of four status roots — Target/ToDo,
Target/Pending, Target/Finished, Target/Failed — and is under exactly one
of them at any time: every status transition is a single transaction that
creates the new copy and deletes the old. Jobs that reconfigure a server
or shard first acquire a block record under Supervision/DBServers or
Supervision/Shards with an oldEmpty precondition; the block is released in
the same transaction that moves the job to its terminal status. Two jobs
racing for the same resource therefore cannot both start: one transaction
is rejected and that job simply stays in ToDo for the next tick.

Jobs are pure over the snapshot they were constructed from; their only
suspension point is the transaction boundary, and their writes carry
preconditions pinning the exact values they read, so a decision made on a
stale snapshot is rejected rather than applied.

Concrete jobs:

  - AddFollower: appends a healthy, free server to an under-replicated
    shard. Completes in one transaction.
  - MoveShard: relocates one shard replica, destination taking over the
    source's position in the replica list (a leader move transfers
    leadership).
  - CleanOutServer: evacuates a server by fanning out MoveShard sub-jobs
    named <jobId>-<n>, then records the server in Target/CleanedServers.
  - FailedLeader: promotes an in-sync follower of a shard whose leader
    has been recorded as failed.

The Supervisor ticks on the leader only. Each tick starts ToDo jobs,
advances Pending jobs, mirrors FAILED health states into
Target/FailedServers, and plans FailedLeader recovery.
*/
package supervision
