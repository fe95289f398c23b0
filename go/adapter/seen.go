package adapter

import "sync"

// SeenIDs tracks entity identities already scheduled for next-phase work,
// pruning redundant expansions across all sources.
type SeenIDs struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewSeenIDs returns an empty tracker.
func NewSeenIDs() *SeenIDs {
	return &SeenIDs{ids: make(map[string]struct{})}
}

// Add records id, reporting whether it was newly seen.
func (s *SeenIDs) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of tracked identities.
func (s *SeenIDs) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
