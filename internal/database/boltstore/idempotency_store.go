package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

// IdempotencyStore remembers client idempotency keys for a limited time so
// a replayed write request can be refused.
type IdempotencyStore struct {
	db  *bolt.DB
	now func() time.Time
}

// Register records key until ttl elapses. It reports false when the key is
// already registered and not yet expired.
func (s *IdempotencyStore) Register(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("empty idempotency key")
	}
	now := s.now()
	fresh := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketIdempotencyKeys)
		if bucket == nil {
			return fmt.Errorf("bucket not found: %s", BucketIdempotencyKeys)
		}

		if v := bucket.Get([]byte(key)); len(v) == 8 {
			expires := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			if now.Before(expires) {
				return nil
			}
		}

		fresh = true
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(ttl).UnixNano()))
		return bucket.Put([]byte(key), buf)
	})

	return fresh, err
}

// Forget removes a key so the request it guarded may be retried.
func (s *IdempotencyStore) Forget(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketIdempotencyKeys)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// PurgeExpired deletes every expired key and returns how many were removed.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketIdempotencyKeys)
		if bucket == nil {
			return nil
		}

		var expired [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			if len(v) != 8 || !now.Before(time.Unix(0, int64(binary.BigEndian.Uint64(v)))) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})

	return removed, err
}

// StartPurger removes expired keys every interval until ctx is cancelled.
func (s *IdempotencyStore) StartPurger(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("boltstore: idempotency purge failed")
				} else if n > 0 {
					log.Debug().Int("removed", n).Msg("boltstore: purged expired idempotency keys")
				}
			}
		}
	}()
}
