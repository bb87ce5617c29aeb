package ledger

import "sync"

// KeySet is the set of dedupe keys finalized in the ledger. It is shared by
// the Writer (which fills it during recovery and checks it before appends)
// and the Queue (which consults it at intake).
type KeySet struct {
	mu   sync.RWMutex
	keys map[DedupeKey]struct{}
}

// NewKeySet returns an empty key set.
func NewKeySet() *KeySet {
	return &KeySet{keys: make(map[DedupeKey]struct{})}
}

// Add registers a key. It reports whether the key was new.
func (s *KeySet) Add(key DedupeKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Contains reports whether the key is registered.
func (s *KeySet) Contains(key DedupeKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of registered keys.
func (s *KeySet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func (s *KeySet) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[DedupeKey]struct{})
}
