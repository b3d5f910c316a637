package responder

import "sync"

// ProcessedSet is the process-local record of answered posts. It only
// guards against double sends within one process; the memory store is the
// authority across restarts and processes.
type ProcessedSet struct {
	mu       sync.Mutex
	done     map[string]struct{}
	inflight map[string]struct{}
}

// NewProcessedSet creates an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{
		done:     make(map[string]struct{}),
		inflight: make(map[string]struct{}),
	}
}

// Has reports whether postID was answered.
func (s *ProcessedSet) Has(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[postID]
	return ok
}

// Add marks postID as answered.
func (s *ProcessedSet) Add(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[postID] = struct{}{}
}

// TryBegin claims postID for processing. It fails if the post was answered
// or another worker holds it.
func (s *ProcessedSet) TryBegin(postID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.done[postID]; ok {
		return false
	}
	if _, ok := s.inflight[postID]; ok {
		return false
	}
	s.inflight[postID] = struct{}{}
	return true
}

// End releases a claim taken with TryBegin.
func (s *ProcessedSet) End(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, postID)
}

// Len returns the number of answered posts.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}
