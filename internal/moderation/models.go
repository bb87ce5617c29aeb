package moderation

import (
	"fmt"
	"strings"
	"time"
)

// Permission represents a moderation capability granted by a role
type Permission string

const (
	PermissionApproveReport Permission = "approve_report"
	PermissionRejectReport  Permission = "reject_report"
	PermissionViewPending   Permission = "view_pending"
	PermissionViewAuditLog  Permission = "view_audit_log"
)

// AllPermissions returns all available permissions
func AllPermissions() []Permission {
	return []Permission{
		PermissionApproveReport,
		PermissionRejectReport,
		PermissionViewPending,
		PermissionViewAuditLog,
	}
}

// RoleName represents the name of a moderation role
type RoleName string

const (
	RoleAdmin     RoleName = "admin"
	RoleModerator RoleName = "moderator"
)

// Role defines a set of permissions for moderators
type Role struct {
	Name        RoleName     `json:"-"` // Set from map key during loading
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// HasPermission checks if this role has the given permission
func (r *Role) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Moderator is an operator allowed to decide on pending reports
type Moderator struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Role RoleName `json:"role"`
	Note string   `json:"note,omitempty"`
}

// Config is the moderator roster loaded from JSON
type Config struct {
	Roles map[RoleName]*Role `json:"roles"`
	Users []Moderator        `json:"users"`
}

// Validate checks that every user references a known role and every role
// grants only known permissions.
func (c *Config) Validate() error {
	if c.Roles == nil {
		c.Roles = make(map[RoleName]*Role)
	}

	known := make(map[Permission]bool)
	for _, p := range AllPermissions() {
		known[p] = true
	}
	for name, role := range c.Roles {
		if role == nil {
			return &ConfigError{Field: "roles", Message: "role " + string(name) + " is empty"}
		}
		for _, p := range role.Permissions {
			if !known[p] {
				return &ConfigError{
					Field:   "roles",
					Message: "role " + string(name) + " grants unknown permission: " + string(p),
				}
			}
		}
		role.Name = name
	}

	for _, user := range c.Users {
		if user.ID == "" {
			return &ConfigError{Field: "users", Message: "user with empty id"}
		}
		if _, ok := c.Roles[user.Role]; !ok {
			return &ConfigError{
				Field:   "users",
				Message: "user " + user.ID + " references unknown role: " + string(user.Role),
			}
		}
	}

	return nil
}

// ConfigError represents a roster validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "moderation config error in " + e.Field + ": " + e.Message
}

// Action is a moderation verdict.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// ParseAction accepts an action name in any case.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, s)
}

// Permission returns the roster permission required to take the action.
func (a Action) Permission() Permission {
	if a == ActionApprove {
		return PermissionApproveReport
	}
	return PermissionRejectReport
}

// Status is the lifecycle state of a report.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Decision is a moderator's verdict on one pending report.
type Decision struct {
	ID        string `json:"id"`
	Action    Action `json:"action"`
	Moderator string `json:"moderator"`
}

// Outcome is returned to the caller after intake or a decision.
type Outcome struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	QueuedAt time.Time `json:"queuedAt"`
	Hash     *string   `json:"hash,omitempty"`
}

// AuditEntry records a finalized decision. Approvals carry the ledger hash.
type AuditEntry struct {
	ID        string    `json:"id"`
	ReportID  string    `json:"reportId"`
	Action    Action    `json:"action"`
	Moderator string    `json:"moderator"`
	Reporter  string    `json:"reporter"`
	DedupeKey string    `json:"dedupeKey"`
	Status    Status    `json:"status"`
	Hash      string    `json:"hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
