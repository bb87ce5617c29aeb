// Package boltstore provides persistent storage using BoltDB (bbolt).
// It backs the pending queue snapshot, the moderation decision audit log and
// the API idempotency key registry. The approved ledger itself is a plain
// JSONL file owned by the ledger package.
package boltstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names for organizing data
var (
	// BucketPendingReports stores pending entries keyed by intake sequence
	BucketPendingReports = []byte("pending_reports")

	// BucketPendingByID indexes pending sequence keys by report id
	BucketPendingByID = []byte("pending_reports_by_id")

	// BucketDecisionAudit stores finalized moderation decisions keyed by "timestamp:id"
	BucketDecisionAudit = []byte("decision_audit_log")

	// BucketIdempotencyKeys stores client idempotency keys with their expiry
	BucketIdempotencyKeys = []byte("idempotency_keys")
)

// Store wraps a BoltDB database and provides access to specialized stores.
type Store struct {
	db *bolt.DB
}

// Options configures the BoltDB store.
type Options struct {
	// Path to the database file. Parent directories will be created if needed.
	Path string

	// Timeout for obtaining a file lock on the database.
	// If zero, a default of 5 seconds is used.
	Timeout time.Duration

	// FileMode for creating the database file.
	// If zero, 0600 is used.
	FileMode os.FileMode

	// ReadOnly opens the database without taking the write lock.
	ReadOnly bool
}

// DefaultOptions returns sensible defaults for development.
func DefaultOptions() Options {
	return Options{
		Path:     "fraudledger.db",
		Timeout:  5 * time.Second,
		FileMode: 0600,
	}
}

// Open creates or opens a BoltDB database at the specified path.
// It creates all necessary buckets if they don't exist.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		opts.Path = "fraudledger.db"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.FileMode == 0 {
		opts.FileMode = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(opts.Path)
	if dir != "" && dir != "." && !opts.ReadOnly {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := bolt.Open(opts.Path, opts.FileMode, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.ReadOnly {
		return &Store{db: db}, nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketPendingReports,
			BucketPendingByID,
			BucketDecisionAudit,
			BucketIdempotencyKeys,
		}

		for _, bucket := range buckets {
			_, err := tx.CreateBucketIfNotExists(bucket)
			if err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the underlying BoltDB instance for advanced operations.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// PendingStore returns the pending queue snapshot store.
func (s *Store) PendingStore() *PendingStore {
	return &PendingStore{db: s.db}
}

// AuditStore returns the decision audit log.
func (s *Store) AuditStore() *AuditStore {
	return &AuditStore{db: s.db}
}

// IdempotencyStore returns the idempotency key registry.
func (s *Store) IdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{db: s.db, now: time.Now}
}

// Stats returns database statistics.
func (s *Store) Stats() bolt.Stats {
	return s.db.Stats()
}
