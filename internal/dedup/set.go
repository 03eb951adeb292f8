// Package dedup tracks which post ids have already been claimed in this run.
package dedup

import "sync"

// Set is a grow-only set of claimed ids, safe for concurrent use.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Claim records id and returns true if no caller has claimed it before.
// The membership check and the insert happen under one lock.
func (s *Set) Claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Len returns the number of claimed ids.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
