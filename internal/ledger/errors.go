package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateApproved means the dedupe key is already finalized in the ledger.
	ErrDuplicateApproved = errors.New("duplicate report already approved for this day")

	// ErrUnknownReport means a decision referenced an id that is not pending.
	ErrUnknownReport = errors.New("unknown report id")

	// ErrNoPendingReports is returned by strict head-of-queue moderation on an empty queue.
	ErrNoPendingReports = errors.New("no entries pending")

	// ErrNotHeadOfQueue is returned by strict head-of-queue moderation when the
	// decision does not reference the oldest pending entry.
	ErrNotHeadOfQueue = errors.New("report is not at the head of the queue")

	// ErrSchemaViolation means a built entry failed validation and was not written.
	ErrSchemaViolation = errors.New("ledger entry failed schema validation")

	// ErrStorageFailure means the durable append (or pending persistence) did not complete.
	ErrStorageFailure = errors.New("ledger storage failure")

	// ErrMalformedLedger means recovery found a historical line it cannot trust.
	ErrMalformedLedger = errors.New("malformed ledger")
)

// MalformedLedgerError pinpoints the line that made the ledger untrustworthy.
type MalformedLedgerError struct {
	Line   int
	Reason string
	Err    error
}

func (e *MalformedLedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed ledger at line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed ledger at line %d: %s", e.Line, e.Reason)
}

func (e *MalformedLedgerError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedLedger) match.
func (e *MalformedLedgerError) Is(target error) bool {
	return target == ErrMalformedLedger
}

// Kind returns a short machine-readable name for the invariant an error
// violated, or "internal" when it is not one of the ledger errors.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateApproved):
		return "duplicate_approved"
	case errors.Is(err, ErrUnknownReport):
		return "unknown_report"
	case errors.Is(err, ErrNoPendingReports):
		return "no_pending"
	case errors.Is(err, ErrNotHeadOfQueue):
		return "not_head"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	case errors.Is(err, ErrMalformedLedger):
		return "malformed_ledger"
	default:
		return "internal"
	}
}
