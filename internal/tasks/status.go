package tasks

import (
	"sort"
	"sync"

	"github.com/desertthunder/vidpub/internal/models"
)

// StatusStore holds the latest [models.JobStatus] per session.
type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]models.JobStatus
}

func NewStatusStore() *StatusStore {
	return &StatusStore{statuses: make(map[string]models.JobStatus)}
}

func (s *StatusStore) Set(status models.JobStatus) {
	s.mu.Lock()
	s.statuses[status.SessionID] = status
	s.mu.Unlock()
}

func (s *StatusStore) Get(session string) (models.JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[session]
	return st, ok
}

// DeleteTerminal removes a session's status only if it is complete or failed, so a re-enqueued
// session is not dropped by an earlier job's timer.
func (s *StatusStore) DeleteTerminal(session string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[session]
	if !ok || !st.State.Terminal() {
		return false
	}
	delete(s.statuses, session)
	return true
}

// List returns all statuses ordered by session id.
func (s *StatusStore) List() []models.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.JobStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Reset drops every status.
func (s *StatusStore) Reset() {
	s.mu.Lock()
	s.statuses = make(map[string]models.JobStatus)
	s.mu.Unlock()
}
