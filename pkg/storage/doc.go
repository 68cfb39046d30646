/*
Package storage provides BoltDB-backed persistence for an agent's durable
local state.

Two kinds of records are kept, each in its own bucket:

  - election: the {term, voted_for} pair written on every term change. Keys
    are the term formatted as a 20-digit zero-padded decimal so that the
    lexicographically last key is the numerically greatest term. On restart
    the latest record seeds the constituent's term and vote.
  - snapshots: serialized trees of the replicated store keyed by applied
    log index, used to seed the in-memory store at startup.

All values are JSON. Reads use db.View, writes db.Update; BoltDB gives
atomic commits with fsync.
*/
package storage
