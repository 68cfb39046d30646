/*
Package agent implements the agency facade that the supervision layer and
the constituent program against.

Interface exposes Write/Transact for submitting conditional transaction
batches, WaitFor for observing commit, Snapshot for consistent reads, and
the configuration and log accessors the constituent needs for elections.
Lead is the hook the constituent invokes on conversion to leader; it
rebuilds the spearhead, the view the next writes apply to, from the
committed read view. The read view itself is left as it is.

The in-process Agent keeps the replicated log abstract: on the leader an
applied entry is a committed entry, and followers reject writes. Commit
waits use a condition variable with a timed wake. The committed tree is
persisted through pkg/storage every snapshotEvery applied entries and on
clean shutdown.
*/
package agent
