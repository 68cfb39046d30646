package storage

import (
	"github.com/cuemby/quorum/pkg/types"
)

// Store defines the interface for an agent's durable local state.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Election records. One durable write per term change; on restart the
	// record with the greatest term is authoritative.
	SaveElectionRecord(rec *types.ElectionRecord) error
	LatestElectionRecord() (*types.ElectionRecord, error)

	// Tree snapshots keyed by applied log index.
	SaveSnapshot(index uint64, tree []byte) error
	LatestSnapshot() (uint64, []byte, error)

	// Utility
	Close() error
}
