package moderation

import "context"

// AuditLog receives every finalized decision, approvals and rejections alike.
// Implementations must be safe for concurrent use.
type AuditLog interface {
	LogDecision(ctx context.Context, entry AuditEntry) error
	// ListDecisions returns the most recent decisions, newest first.
	ListDecisions(ctx context.Context, limit int) ([]AuditEntry, error)
}
