package offlineagent

import (
	"sync"

	"github.com/always-cache/offline-agent/bus"
)

// Status is the agent's view of connectivity and authentication.
type Status = bus.Status

// StatusState holds the single, process-wide Status of an agent.
// It starts as online and logged out, and is never persisted.
type StatusState struct {
	mu     sync.RWMutex
	status Status
}

func NewStatusState() *StatusState {
	return &StatusState{status: Status{Online: true}}
}

func (s *StatusState) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Replace overwrites the whole status, no merging.
func (s *StatusState) Replace(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *StatusState) SetOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Online = online
}

// ClearLogin sets loggedIn to false and reports whether it was true before.
func (s *StatusState) ClearLogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.status.LoggedIn
	s.status.LoggedIn = false
	return was
}

// applyUntrusted takes online as reported, but only ever lowers loggedIn.
func (s *StatusState) applyUntrusted(update Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Online = update.Online
	if !update.LoggedIn {
		s.status.LoggedIn = false
	}
}
