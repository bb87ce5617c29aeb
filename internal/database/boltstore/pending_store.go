package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"fraudledger/internal/ledger"

	bolt "go.etcd.io/bbolt"
)

// PendingStore persists the pending queue so it survives restarts.
// It implements ledger.PendingStore.
type PendingStore struct {
	db *bolt.DB
}

var _ ledger.PendingStore = (*PendingStore)(nil)

// SavePending appends an entry under the next intake sequence number.
func (s *PendingStore) SavePending(ctx context.Context, entry ledger.PendingEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPendingReports)
		index := tx.Bucket(BucketPendingByID)
		if bucket == nil || index == nil {
			return fmt.Errorf("bucket not found: %s", BucketPendingReports)
		}

		if index.Get([]byte(entry.ID)) != nil {
			return fmt.Errorf("pending report %s already stored", entry.ID)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal pending report: %w", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := seqKey(seq)

		if err := bucket.Put(key, data); err != nil {
			return err
		}
		return index.Put([]byte(entry.ID), key)
	})
}

// DeletePending removes an entry. Deleting an unknown id is not an error.
func (s *PendingStore) DeletePending(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPendingReports)
		index := tx.Bucket(BucketPendingByID)
		if bucket == nil || index == nil {
			return nil
		}

		key := index.Get([]byte(id))
		if key == nil {
			return nil
		}
		if err := bucket.Delete(key); err != nil {
			return err
		}
		return index.Delete([]byte(id))
	})
}

// ListPending returns stored entries in intake order.
func (s *PendingStore) ListPending(ctx context.Context) ([]ledger.PendingEntry, error) {
	var entries []ledger.PendingEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPendingReports)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var entry ledger.PendingEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to unmarshal pending report at sequence %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, entry)
			return nil
		})
	})

	return entries, err
}

// CountPending returns the number of stored entries.
func (s *PendingStore) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketPendingReports)
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// seqKey encodes a sequence number so byte order matches numeric order.
func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
