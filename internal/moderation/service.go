package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fraudledger/internal/ledger"
	"fraudledger/internal/metrics"
	"fraudledger/internal/tracing"

	"github.com/rs/zerolog/log"
)

// Service is the moderation state machine. It owns the pending queue and the
// ledger writer; decisions are serialized, reads are not.
type Service struct {
	mu         sync.Mutex // serializes decisions
	queue      *ledger.Queue
	writer     *ledger.Writer
	audit      AuditLog
	roster     *Roster
	strictHead bool
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAuditLog records every finalized decision to log.
func WithAuditLog(audit AuditLog) Option {
	return func(s *Service) { s.audit = audit }
}

// WithRoster restricts decisions to moderators granted the matching permission.
func WithRoster(roster *Roster) Option {
	return func(s *Service) { s.roster = roster }
}

// WithStrictHead makes Moderate accept only decisions on the oldest pending report.
func WithStrictHead(strict bool) Option {
	return func(s *Service) { s.strictHead = strict }
}

// WithClock overrides the audit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the state machine around an opened writer and a queue
// sharing the writer's approved-key set.
func NewService(writer *ledger.Writer, queue *ledger.Queue, opts ...Option) *Service {
	s := &Service{
		queue:  queue,
		writer: writer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue submits a report for moderation. created is false when the same
// report is already pending; the existing entry's outcome is returned.
func (s *Service) Enqueue(ctx context.Context, report ledger.FraudReport) (Outcome, bool, error) {
	ctx, span := tracing.LedgerSpan(ctx, "enqueue", "")
	defer span.End()

	entry, created, err := s.queue.Enqueue(ctx, report)
	switch {
	case errors.Is(err, ledger.ErrDuplicateApproved):
		metrics.ReportsTotal.WithLabelValues(metrics.ResultDuplicate).Inc()
		tracing.EndWithError(span, err)
		return Outcome{}, false, err
	case err != nil:
		metrics.ReportsTotal.WithLabelValues(metrics.ResultError).Inc()
		tracing.EndWithError(span, err)
		return Outcome{}, false, err
	case created:
		metrics.ReportsTotal.WithLabelValues(metrics.ResultCreated).Inc()
	default:
		metrics.ReportsTotal.WithLabelValues(metrics.ResultExisting).Inc()
	}

	return Outcome{ID: entry.ID, Status: StatusPending, QueuedAt: entry.ReceivedAt}, created, nil
}

// PendingCount returns the number of reports awaiting moderation.
func (s *Service) PendingCount() int {
	return s.queue.Len()
}

// PeekHead returns the oldest pending report without removing it.
func (s *Service) PeekHead() (ledger.PendingEntry, bool) {
	return s.queue.PeekHead()
}

// ListPending returns all pending reports, oldest first.
func (s *Service) ListPending() []ledger.PendingEntry {
	return s.queue.List()
}

// Tip returns the hash of the last approved entry, or nil.
func (s *Service) Tip() *string {
	return s.writer.Tip()
}

// LedgerEntries returns the number of lines in the ledger.
func (s *Service) LedgerEntries() int {
	return s.writer.Entries()
}

// ApprovedCount returns the number of distinct approved dedupe keys.
func (s *Service) ApprovedCount() int {
	return s.writer.ApprovedCount()
}

// Roster returns the moderator roster, or nil.
func (s *Service) Roster() *Roster {
	return s.roster
}

// StrictHead reports whether Moderate enforces head-of-queue order.
func (s *Service) StrictHead() bool {
	return s.strictHead
}

// Audit returns the most recent finalized decisions, newest first.
func (s *Service) Audit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.ListDecisions(ctx, limit)
}

// Moderate applies a decision to the pending report it names. In strict-head
// mode it behaves like ModerateHead.
func (s *Service) Moderate(ctx context.Context, d Decision) (Outcome, error) {
	if s.strictHead {
		return s.ModerateHead(ctx, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decide(ctx, d)
}

// ModerateHead applies a decision only if it names the oldest pending report.
// An empty queue is ErrNoPendingReports; any other id is ErrNotHeadOfQueue.
func (s *Service) ModerateHead(ctx context.Context, d Decision) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head, ok := s.queue.PeekHead()
	if !ok {
		return Outcome{}, ledger.ErrNoPendingReports
	}
	if head.ID != d.ID {
		return Outcome{}, fmt.Errorf("%w: head is %s", ledger.ErrNotHeadOfQueue, head.ID)
	}
	return s.decide(ctx, d)
}

// decide runs one decision. Caller must hold mu.
func (s *Service) decide(ctx context.Context, d Decision) (Outcome, error) {
	ctx, span := tracing.LedgerSpan(ctx, "moderate", d.ID)
	defer span.End()

	out, err := s.decideTraced(ctx, d)
	tracing.EndWithError(span, err)

	result := metrics.ResultOK
	if err != nil {
		result = ledger.Kind(err)
		if errors.Is(err, ErrInvalidDecision) {
			result = "invalid_decision"
		} else if errors.Is(err, ErrNotPermitted) {
			result = "not_permitted"
		}
	}
	label := "invalid"
	if a, perr := ParseAction(string(d.Action)); perr == nil {
		label = string(a)
	}
	metrics.ModerationDecisionsTotal.WithLabelValues(label, result).Inc()
	return out, err
}

func (s *Service) decideTraced(ctx context.Context, d Decision) (Outcome, error) {
	action, err := ParseAction(string(d.Action))
	if err != nil {
		return Outcome{}, err
	}
	if d.ID == "" {
		return Outcome{}, fmt.Errorf("%w: missing id", ErrInvalidDecision)
	}
	if d.Moderator == "" {
		return Outcome{}, fmt.Errorf("%w: missing moderator", ErrInvalidDecision)
	}
	if err := s.roster.Authorize(d.Moderator, action.Permission()); err != nil {
		return Outcome{}, err
	}

	p, ok := s.queue.Get(d.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ledger.ErrUnknownReport, d.ID)
	}

	if action == ActionReject {
		return s.reject(ctx, p, d.Moderator), nil
	}
	return s.approve(ctx, p, d.Moderator)
}

func (s *Service) reject(ctx context.Context, p ledger.PendingEntry, moderator string) Outcome {
	s.queue.Remove(ctx, p.ID)

	log.Info().
		Str("event", "ledger_report_rejected").
		Str("reportId", p.ID).
		Str("reporter", p.Report.Reporter).
		Str("moderator", moderator).
		Msg("moderation: report rejected")

	s.recordAudit(ctx, p, ActionReject, moderator, StatusRejected, "")
	return Outcome{ID: p.ID, Status: StatusRejected, QueuedAt: p.ReceivedAt}
}

func (s *Service) approve(ctx context.Context, p ledger.PendingEntry, moderator string) (Outcome, error) {
	if s.writer.IsApproved(p.DedupeKey) {
		s.dropMoot(ctx, p)
		return Outcome{}, fmt.Errorf("%w: %s", ledger.ErrDuplicateApproved, p.DedupeKey)
	}

	start := time.Now()
	entry, err := s.writer.AppendWithCommit(p, moderator, func(register func()) {
		s.queue.Finalize(p.ID, register)
	})
	metrics.LedgerAppendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerAppendsTotal.WithLabelValues(metrics.ResultError).Inc()
		if errors.Is(err, ledger.ErrDuplicateApproved) {
			s.dropMoot(ctx, p)
		}
		// Anything else leaves the report pending so the decision can be retried.
		return Outcome{}, err
	}
	metrics.LedgerAppendsTotal.WithLabelValues(metrics.ResultOK).Inc()
	s.queue.Forget(ctx, p.ID)

	s.recordAudit(ctx, p, ActionApprove, moderator, StatusApproved, entry.Hash)
	hash := entry.Hash
	return Outcome{ID: p.ID, Status: StatusApproved, QueuedAt: p.ReceivedAt, Hash: &hash}, nil
}

// dropMoot removes a pending report whose key was approved meanwhile.
func (s *Service) dropMoot(ctx context.Context, p ledger.PendingEntry) {
	s.queue.Remove(ctx, p.ID)
	log.Info().
		Str("event", "ledger_duplicate_approved").
		Str("reportId", p.ID).
		Str("dedupeKey", string(p.DedupeKey)).
		Msg("moderation: pending report already approved, dropped")
}

func (s *Service) recordAudit(ctx context.Context, p ledger.PendingEntry, action Action, moderator string, status Status, hash string) {
	if s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:        p.ID + ":" + string(action),
		ReportID:  p.ID,
		Action:    action,
		Moderator: moderator,
		Reporter:  p.Report.Reporter,
		DedupeKey: string(p.DedupeKey),
		Status:    status,
		Hash:      hash,
		Timestamp: s.now().UTC(),
	}
	if err := s.audit.LogDecision(ctx, entry); err != nil {
		log.Warn().Err(err).Str("reportId", p.ID).Msg("moderation: failed to record audit entry")
	}
}
