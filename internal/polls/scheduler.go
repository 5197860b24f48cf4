package polls

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scheduler holds one pending expiry per poll (thread-safe). Timers do not depend on
// any connection and fire even when nobody is online.
type Scheduler struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*expiry
	logger  *zap.Logger
}

type expiry struct {
	timer *time.Timer
	at    time.Time
}

// NewScheduler creates an empty expiry scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{pending: make(map[uuid.UUID]*expiry), logger: logger}
}

// Schedule runs fn after delay unless cancelled first. A previous expiry for the same poll is replaced.
func (s *Scheduler) Schedule(pollID uuid.UUID, delay time.Duration, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.pending[pollID]; prev != nil {
		prev.timer.Stop()
	}
	e := &expiry{at: time.Now().Add(delay)}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.pending[pollID] != e {
			s.mu.Unlock()
			return
		}
		delete(s.pending, pollID)
		s.mu.Unlock()
		fn()
	})
	s.pending[pollID] = e
	s.logger.Debug("poll expiry scheduled", zap.String("poll_id", pollID.String()), zap.Duration("delay", delay))
}

// Cancel drops the pending expiry for pollID. It reports whether one was pending.
func (s *Scheduler) Cancel(pollID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.pending[pollID]
	if e == nil {
		return false
	}
	e.timer.Stop()
	delete(s.pending, pollID)
	s.logger.Debug("poll expiry cancelled", zap.String("poll_id", pollID.String()))
	return true
}

// Pending reports whether an expiry is scheduled for pollID, and when it fires.
func (s *Scheduler) Pending(pollID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.pending[pollID]
	if e == nil {
		return time.Time{}, false
	}
	return e.at, true
}

// Stop cancels every pending expiry (shutdown).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, id)
	}
}
