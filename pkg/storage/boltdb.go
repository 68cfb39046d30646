package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/quorum/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketElection  = []byte("election")
	bucketSnapshots = []byte("snapshots")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "quorum.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketElection,
			bucketSnapshots,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// paddedKey formats a counter as a 20-digit zero-padded decimal so that
// lexicographic key order equals numeric order.
func paddedKey(n uint64) []byte {
	return []byte(fmt.Sprintf("%020d", n))
}

// SaveElectionRecord persists the term/vote pair under the zero-padded
// term key. One record is written per term change.
func (s *BoltStore) SaveElectionRecord(rec *types.ElectionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketElection)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(paddedKey(rec.Term), data)
	})
}

// LatestElectionRecord returns the record with the greatest term, or nil
// when none has been persisted yet.
func (s *BoltStore) LatestElectionRecord() (*types.ElectionRecord, error) {
	var rec *types.ElectionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketElection).Cursor()
		_, v := c.Last()
		if v == nil {
			return nil
		}
		rec = &types.ElectionRecord{}
		return json.Unmarshal(v, rec)
	})
	return rec, err
}

// SaveSnapshot persists a serialized tree under the zero-padded log index.
func (s *BoltStore) SaveSnapshot(index uint64, tree []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(paddedKey(index), tree)
	})
}

// LatestSnapshot returns the newest persisted tree and its log index.
// A nil tree means no snapshot exists.
func (s *BoltStore) LatestSnapshot() (uint64, []byte, error) {
	var (
		index uint64
		tree  []byte
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		k, v := c.Last()
		if v == nil {
			return nil
		}
		if _, err := fmt.Sscanf(string(k), "%d", &index); err != nil {
			return fmt.Errorf("corrupt snapshot key %q: %w", k, err)
		}
		tree = append([]byte(nil), v...)
		return nil
	})
	return index, tree, err
}
