package alarm

import (
	"sync"
	"time"

	"southwinds.dev/keycache/internal/debug"
)

// Ensure TimerScheduler implements Scheduler
var _ Scheduler = (*TimerScheduler)(nil)

type registration struct {
	timer    *time.Timer
	deadline time.Time
	seq      uint64
}

// TimerScheduler implements Scheduler on top of runtime timers
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[string]*registration
	seq     uint64
	closed  bool
}

// NewTimerScheduler creates an empty scheduler
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		pending: make(map[string]*registration),
	}
}

// Arm registers fire to run at deadline, replacing any registration under token.
// A deadline in the past fires as soon as possible.
func (s *TimerScheduler) Arm(token string, deadline time.Time, fire func()) error {
	if token == "" {
		return ErrMissingToken
	}
	if deadline.IsZero() {
		return ErrInvalidDeadline
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSchedulerClosed
	}

	s.stopLocked(token)

	s.seq++
	seq := s.seq
	reg := &registration{deadline: deadline, seq: seq}
	reg.timer = time.AfterFunc(time.Until(deadline), func() {
		if !s.claim(token, seq) {
			debug.Print("alarm %s (seq %d) superseded before firing\n", token, seq)
			return
		}
		fire()
	})
	s.pending[token] = reg

	debug.Print("alarm %s armed for %s (seq %d)\n", token, deadline.Format(time.RFC3339), seq)
	return nil
}

// claim removes the registration if it is still the one identified by seq
func (s *TimerScheduler) claim(token string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.pending[token]
	if !ok || reg.seq != seq {
		return false
	}
	delete(s.pending, token)
	return true
}

// Cancel removes the registration under token, if any
func (s *TimerScheduler) Cancel(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(token)
}

func (s *TimerScheduler) stopLocked(token string) {
	if reg, ok := s.pending[token]; ok {
		reg.timer.Stop()
		delete(s.pending, token)
	}
}

// Pending returns the deadline armed under token
func (s *TimerScheduler) Pending(token string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.pending[token]
	if !ok {
		return time.Time{}, false
	}
	return reg.deadline, true
}

// Close stops every pending timer. Later Arm calls fail with ErrSchedulerClosed.
func (s *TimerScheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token := range s.pending {
		s.stopLocked(token)
	}
	s.closed = true
	return nil
}
