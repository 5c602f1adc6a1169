package session

import (
	"sync"
	"time"

	"github.com/marionet/marionet/pkg/profile"
	"github.com/marionet/marionet/pkg/types"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusBusy     Status = "busy"
	StatusClosing  Status = "closing"
	StatusClosed   Status = "closed"
)

// transitions is the allowed state machine. Anything not listed here is an
// invalid transition and is rejected.
var transitions = map[Status][]Status{
	StatusStarting: {StatusReady, StatusClosing, StatusClosed},
	StatusReady:    {StatusBusy, StatusClosing},
	StatusBusy:     {StatusReady, StatusClosing},
	StatusClosing:  {StatusClosed},
	StatusClosed:   {},
}

// Session is one live browser process bound to exactly one profile for its
// lifetime. Other packages reference sessions by ID only; the handle is
// owned exclusively by this package.
type Session struct {
	// ID is the opaque unique session identifier
	ID string

	// Profile is the bound profile; never changes after launch
	Profile profile.Profile

	// StartedAt is when the session reached Ready
	StartedAt time.Time

	mu     sync.Mutex
	status Status
	handle Handle
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// transition moves the session to a new state, rejecting moves the state
// machine does not allow.
func (s *Session) transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to Status) error {
	for _, allowed := range transitions[s.status] {
		if allowed == to {
			s.status = to
			return nil
		}
	}
	return types.WrapError(types.KindConfiguration, types.ErrInvalidTransition,
		"session %s cannot move from %s to %s", s.ID, s.status, to)
}

// BeginExecution marks the session Busy for one script run. It fails if
// the session is not Ready, which also covers racing with a close.
func (s *Session) BeginExecution() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return types.WrapError(types.KindContention, types.ErrInvalidTransition,
			"session %s is %s, not ready", s.ID, s.status)
	}
	return s.transitionLocked(StatusBusy)
}

// EndExecution returns a Busy session to Ready. If a close raced in and the
// session is already Closing or Closed, the state is left alone.
func (s *Session) EndExecution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusBusy {
		s.status = StatusReady
	}
}

// beginClose moves the session to Closing. It reports false when the
// session is already Closing or Closed, making close idempotent.
func (s *Session) beginClose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case StatusClosing, StatusClosed:
		return false
	}
	s.status = StatusClosing
	return true
}

// Transport returns the protocol transport for this session.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	return s.handle.Transport()
}

// Info is the caller-visible snapshot of a session.
type Info struct {
	ID        string    `json:"id"`
	Profile   string    `json:"profile,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Status    Status    `json:"status"`
}

// info snapshots the session for listings.
func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Profile:   s.Profile.Name,
		StartedAt: s.StartedAt,
		Status:    s.status,
	}
}
