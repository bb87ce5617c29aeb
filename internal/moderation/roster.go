package moderation

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Roster provides role-based access control for moderators.
type Roster struct {
	mu         sync.RWMutex
	config     *Config
	configPath string

	// Quick lookup maps built from config
	userRoles map[string]*Role      // moderator id -> Role
	userInfos map[string]*Moderator // moderator id -> Moderator
}

// NewRoster loads the moderator roster from configPath.
// If configPath is empty or the file does not exist, the roster is in
// "open" mode: any non-empty moderator id may decide.
func NewRoster(configPath string) (*Roster, error) {
	r := &Roster{
		configPath: configPath,
		userRoles:  make(map[string]*Role),
		userInfos:  make(map[string]*Moderator),
	}

	if configPath == "" {
		log.Info().Msg("moderation: no roster path provided, any moderator id is accepted")
		return r, nil
	}

	if err := r.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load moderation config: %w", err)
	}

	return r, nil
}

func (r *Roster) loadConfig() error {
	data, err := os.ReadFile(r.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", r.configPath).Msg("moderation: roster file not found, any moderator id is accepted")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.config = &config
	r.rebuildLookupMaps()

	log.Info().
		Int("roles", len(config.Roles)).
		Int("users", len(config.Users)).
		Str("path", r.configPath).
		Msg("moderation: roster loaded")

	return nil
}

// rebuildLookupMaps rebuilds the quick lookup maps from config.
// Caller must hold the write lock.
func (r *Roster) rebuildLookupMaps() {
	r.userRoles = make(map[string]*Role)
	r.userInfos = make(map[string]*Moderator)

	if r.config == nil {
		return
	}

	for i := range r.config.Users {
		user := &r.config.Users[i]
		if role, ok := r.config.Roles[user.Role]; ok {
			r.userRoles[user.ID] = role
			r.userInfos[user.ID] = user
		}
	}
}

// Reload reloads the roster from disk
func (r *Roster) Reload() error {
	if r.configPath == "" {
		return nil
	}
	return r.loadConfig()
}

// IsEnabled returns true if a roster with at least one user is loaded
func (r *Roster) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config != nil && len(r.config.Users) > 0
}

// HasPermission returns true if the moderator has the specified permission
func (r *Roster) HasPermission(id string, permission Permission) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.userRoles[id]
	if !ok {
		return false
	}
	return role.HasPermission(permission)
}

// Authorize returns ErrNotPermitted when an enabled roster does not grant
// permission to id. An open roster authorizes everyone.
func (r *Roster) Authorize(id string, permission Permission) error {
	if r == nil || !r.IsEnabled() {
		return nil
	}
	if !r.HasPermission(id, permission) {
		return fmt.Errorf("%w: %s lacks %s", ErrNotPermitted, id, permission)
	}
	return nil
}

// GetRole returns a copy of the role for the given moderator, if any
func (r *Roster) GetRole(id string) (*Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.userRoles[id]
	if !ok {
		return nil, false
	}
	roleCopy := *role
	return &roleCopy, true
}

// GetModerator returns a copy of the moderator entry, if any
func (r *Roster) GetModerator(id string) (*Moderator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.userInfos[id]
	if !ok {
		return nil, false
	}
	userCopy := *user
	return &userCopy, true
}

// ListModerators returns all configured moderators
func (r *Roster) ListModerators() []Moderator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.config == nil {
		return nil
	}

	result := make([]Moderator, len(r.config.Users))
	copy(result, r.config.Users)
	return result
}
