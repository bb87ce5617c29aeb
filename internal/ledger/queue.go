package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PendingStore persists pending entries so they survive restarts.
// Implementations must be safe for concurrent use.
type PendingStore interface {
	SavePending(ctx context.Context, entry PendingEntry) error
	DeletePending(ctx context.Context, id string) error
	// ListPending returns stored entries in intake order.
	ListPending(ctx context.Context) ([]PendingEntry, error)
}

// Queue holds reports awaiting moderation in FIFO order, indexed by id and
// by dedupe key. The order and both indexes are updated together under mu.
// Store writes never happen under mu; intake persistence is serialized by
// intakeMu, which readers never take.
type Queue struct {
	mu    sync.Mutex
	order deque.Deque[string]
	byID  map[string]PendingEntry
	byKey map[DedupeKey]string

	intakeMu sync.Mutex

	approved *KeySet
	store    PendingStore
	now      func() time.Time
	newID    func() string
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithPendingStore persists pending entries to store.
func WithPendingStore(store PendingStore) QueueOption {
	return func(q *Queue) { q.store = store }
}

// WithQueueClock overrides the receipt timestamp source.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// WithIDGenerator overrides pending id allocation.
func WithIDGenerator(newID func() string) QueueOption {
	return func(q *Queue) { q.newID = newID }
}

// NewQueue creates an empty queue that rejects keys present in approved.
func NewQueue(approved *KeySet, opts ...QueueOption) *Queue {
	q := &Queue{
		byID:     make(map[string]PendingEntry),
		byKey:    make(map[DedupeKey]string),
		approved: approved,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.approved == nil {
		q.approved = NewKeySet()
	}
	return q
}

// Enqueue accepts a report for moderation.
//
// A report whose key is already approved fails with ErrDuplicateApproved. A
// report whose key is already pending returns the existing entry unchanged
// with created=false. Otherwise a new entry is created and returned.
func (q *Queue) Enqueue(ctx context.Context, report FraudReport) (PendingEntry, bool, error) {
	receivedAt := q.now().UTC()
	report = cloneReport(report)
	if report.ReportedAt == nil {
		ms := receivedAt.UnixMilli()
		report.ReportedAt = &ms
	}
	key := KeyForReport(report, receivedAt)

	q.intakeMu.Lock()
	defer q.intakeMu.Unlock()

	q.mu.Lock()
	existing, err := q.lookup(report, key)
	q.mu.Unlock()
	if err != nil || existing.ID != "" {
		return existing, false, err
	}

	entry := PendingEntry{
		ID:         q.newID(),
		Report:     report,
		ReceivedAt: receivedAt,
		DedupeKey:  key,
	}
	if q.store != nil {
		if err := q.store.SavePending(ctx, entry); err != nil {
			return PendingEntry{}, false, fmt.Errorf("%w: persist pending report: %v", ErrStorageFailure, err)
		}
	}

	q.mu.Lock()
	// intakeMu keeps the key from becoming pending meanwhile, but a direct
	// ledger append may have approved it.
	approved := q.approved.Contains(key)
	if !approved {
		q.insert(entry)
	}
	q.mu.Unlock()
	if approved {
		q.Forget(ctx, entry.ID)
		return PendingEntry{}, false, fmt.Errorf("%w: %s", ErrDuplicateApproved, key)
	}

	log.Info().
		Str("event", "ledger_report_enqueued").
		Str("reportId", entry.ID).
		Str("reporter", report.Reporter).
		Str("dedupeKey", string(key)).
		Msg("ledger: report enqueued")
	return entry, true, nil
}

// lookup returns the pending entry for key, or ErrDuplicateApproved when the
// key is already in the ledger. A zero entry means key is free. Caller must
// hold mu.
func (q *Queue) lookup(report FraudReport, key DedupeKey) (PendingEntry, error) {
	if q.approved.Contains(key) {
		log.Info().
			Str("event", "ledger_duplicate_approved").
			Str("reporter", report.Reporter).
			Str("dedupeKey", string(key)).
			Msg("ledger: report already approved")
		return PendingEntry{}, fmt.Errorf("%w: %s", ErrDuplicateApproved, key)
	}
	if id, ok := q.byKey[key]; ok {
		log.Info().
			Str("event", "ledger_duplicate_report").
			Str("reporter", report.Reporter).
			Str("dedupeKey", string(key)).
			Str("existingId", id).
			Msg("ledger: report already pending")
		return q.byID[id], nil
	}
	return PendingEntry{}, nil
}

// Len returns the number of entries awaiting moderation.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

// PeekHead returns the oldest pending entry without removing it.
func (q *Queue) PeekHead() (PendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.order.Len() == 0 {
		return PendingEntry{}, false
	}
	return q.byID[q.order.Front()], true
}

// Get returns the pending entry with the given id.
func (q *Queue) Get(id string) (PendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	return e, ok
}

// List returns all pending entries, oldest first.
func (q *Queue) List() []PendingEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingEntry, 0, q.order.Len())
	for i := 0; i < q.order.Len(); i++ {
		out = append(out, q.byID[q.order.At(i)])
	}
	return out
}

// Remove removes and returns the entry with the given id and drops its
// persisted copy.
func (q *Queue) Remove(ctx context.Context, id string) (PendingEntry, bool) {
	e, ok := q.Finalize(id, nil)
	if ok {
		q.Forget(ctx, id)
	}
	return e, ok
}

// Finalize removes the entry with the given id from memory and runs register
// in the same critical section, so intake never sees the key both pending
// and approved. register runs even when id is no longer pending. The
// persisted copy is left for the caller to Forget outside any lock.
func (q *Queue) Finalize(id string, register func()) (PendingEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if register != nil {
		register()
	}
	e, ok := q.byID[id]
	if !ok {
		return PendingEntry{}, false
	}
	q.delete(e)
	return e, true
}

// Forget drops the persisted copy of a finalized entry. Failures are logged
// only: Restore discards stale rows whose key is approved.
func (q *Queue) Forget(ctx context.Context, id string) {
	if q.store == nil {
		return
	}
	if err := q.store.DeletePending(ctx, id); err != nil {
		log.Warn().Err(err).Str("reportId", id).Msg("ledger: failed to delete pending snapshot")
	}
}

// Restore reloads persisted pending entries, skipping any whose key was
// approved or is already pending. It returns the number restored.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	entries, err := q.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: load pending reports: %v", ErrStorageFailure, err)
	}

	var stale []string
	restored := 0
	q.mu.Lock()
	for _, e := range entries {
		_, pendingKey := q.byKey[e.DedupeKey]
		_, pendingID := q.byID[e.ID]
		if q.approved.Contains(e.DedupeKey) || pendingKey || pendingID {
			stale = append(stale, e.ID)
			continue
		}
		q.insert(e)
		restored++
	}
	q.mu.Unlock()

	for _, id := range stale {
		if err := q.store.DeletePending(ctx, id); err != nil {
			log.Warn().Err(err).Str("reportId", id).Msg("ledger: failed to drop stale pending snapshot")
		}
	}

	log.Info().
		Str("event", "ledger_pending_restored").
		Int("restored", restored).
		Int("stored", len(entries)).
		Msg("ledger: pending queue restored")
	return restored, nil
}

// insert adds e to every index. Caller must hold mu.
func (q *Queue) insert(e PendingEntry) {
	q.order.PushBack(e.ID)
	q.byID[e.ID] = e
	q.byKey[e.DedupeKey] = e.ID
}

// delete removes e from every index. Caller must hold mu.
func (q *Queue) delete(e PendingEntry) {
	if i := q.order.Index(func(id string) bool { return id == e.ID }); i >= 0 {
		q.order.Remove(i)
	}
	delete(q.byID, e.ID)
	if q.byKey[e.DedupeKey] == e.ID {
		delete(q.byKey, e.DedupeKey)
	}
}

func cloneReport(r FraudReport) FraudReport {
	r.MerchantHash = cloneString(r.MerchantHash)
	r.CountryCode = cloneString(r.CountryCode)
	r.MCC = cloneString(r.MCC)
	if r.ReportedAt != nil {
		v := *r.ReportedAt
		r.ReportedAt = &v
	}
	return r
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
