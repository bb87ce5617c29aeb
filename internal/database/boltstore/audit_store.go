package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"fraudledger/internal/moderation"

	bolt "go.etcd.io/bbolt"
)

// AuditStore persists finalized moderation decisions.
// It implements moderation.AuditLog.
type AuditStore struct {
	db *bolt.DB
}

var _ moderation.AuditLog = (*AuditStore)(nil)

// LogDecision records a decision.
func (s *AuditStore) LogDecision(ctx context.Context, entry moderation.AuditEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDecisionAudit)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketDecisionAudit)
		}

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		// Zero-padded nanosecond timestamp keeps byte order chronological;
		// the id suffix keeps keys unique.
		key := fmt.Sprintf("%020d:%s", entry.Timestamp.UnixNano(), entry.ID)

		return bucket.Put([]byte(key), data)
	})
}

// ListDecisions returns up to limit decisions, newest first. A non-positive
// limit returns all of them.
func (s *AuditStore) ListDecisions(ctx context.Context, limit int) ([]moderation.AuditEntry, error) {
	var entries []moderation.AuditEntry

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketDecisionAudit)
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry moderation.AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // Skip malformed entries
			}
			entries = append(entries, entry)
		}
		return nil
	})

	return entries, err
}
