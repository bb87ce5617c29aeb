package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// stepClock returns a clock that advances by one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := cur
		cur = cur.Add(time.Second)
		return t
	}
}

var testEpoch = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleReport(reporter string) FraudReport {
	return FraudReport{
		Reporter:              reporter,
		AccountHash:           "acct-1",
		MerchantHash:          StringPtr("m-1"),
		DescriptionTokensHash: "d-1",
		Description:           "card testing burst",
		AmountCents:           1250,
		CountryCode:           StringPtr("US"),
	}
}

func setupTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	w, err := Open(path, WithClock(stepClock(testEpoch)))
	require.NoError(t, err)
	return w, path
}

func pendingFor(t *testing.T, q *Queue, r FraudReport) PendingEntry {
	t.Helper()
	p, created, err := q.Enqueue(t.Context(), r)
	require.NoError(t, err)
	require.True(t, created)
	return p
}

// keysOf copies the registered keys of s.
func keysOf(s *KeySet) map[DedupeKey]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[DedupeKey]struct{}, len(s.keys))
	for k := range s.keys {
		out[k] = struct{}{}
	}
	return out
}
