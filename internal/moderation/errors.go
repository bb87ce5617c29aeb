package moderation

import "errors"

var (
	// ErrInvalidDecision means the decision is missing an id, moderator or valid action.
	ErrInvalidDecision = errors.New("invalid moderation decision")

	// ErrNotPermitted means the roster does not grant the moderator the required permission.
	ErrNotPermitted = errors.New("moderator not permitted")
)
