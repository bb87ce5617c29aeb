package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	ref := time.Date(2025, 3, 14, 23, 59, 59, 0, time.UTC)

	t.Run("all fields present", func(t *testing.T) {
		key := BuildKey("alice", "m1", "d1", ref)
		assert.Equal(t, DedupeKey("alice|m1|d1|2025-03-14"), key)
	})

	t.Run("empty fingerprints become NONE", func(t *testing.T) {
		key := BuildKey("alice", "", "", ref)
		assert.Equal(t, DedupeKey("alice|NONE|NONE|2025-03-14"), key)
	})

	t.Run("day is taken in UTC", func(t *testing.T) {
		tokyo := time.FixedZone("JST", 9*60*60)
		local := time.Date(2025, 3, 15, 8, 0, 0, 0, tokyo) // 2025-03-14T23:00Z
		assert.Equal(t, DedupeKey("alice|m1|d1|2025-03-14"), BuildKey("alice", "m1", "d1", local))
	})

	t.Run("different day yields different key", func(t *testing.T) {
		next := ref.Add(2 * time.Second)
		assert.NotEqual(t, BuildKey("alice", "m1", "d1", ref), BuildKey("alice", "m1", "d1", next))
	})
}

func TestKeyForReportMatchesKeyForEntry(t *testing.T) {
	received := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reported := time.Date(2025, 5, 31, 22, 0, 0, 0, time.UTC).UnixMilli()

	r := sampleReport("alice")
	r.ReportedAt = &reported
	p := PendingEntry{ID: "r1", Report: r, ReceivedAt: received}
	p.DedupeKey = KeyForReport(r, received)

	entry := newEntry(p, "mod", received.Add(48*time.Hour), nil)
	key, err := KeyForEntry(entry)
	require.NoError(t, err)

	assert.Equal(t, p.DedupeKey, key)
	assert.Equal(t, DedupeKey("alice|m-1|d-1|2025-05-31"), key)
}

func TestKeyForEntryFallsBackToModeratedAt(t *testing.T) {
	e := LedgerEntry{
		Reporter:              "bob",
		DescriptionTokensHash: "d",
		ModeratedAt:           "2024-12-31T23:59:59.5Z",
	}
	key, err := KeyForEntry(e)
	require.NoError(t, err)
	assert.Equal(t, DedupeKey("bob|NONE|d|2024-12-31"), key)

	e.ModeratedAt = "yesterday"
	_, err = KeyForEntry(e)
	assert.Error(t, err)
}
