package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AutoSubmitFunc is invoked exactly once when a watched session's time
// limit reaches zero.
type AutoSubmitFunc func(sessionID uuid.UUID)

// DeadlineScheduler runs one countdown per timed in_progress session and
// fires auto-submit at the zero crossing. The fired flag guarantees a single
// trigger even though the tick keeps observing remaining == 0 afterwards.
// Untimed sessions are never watched.
type DeadlineScheduler struct {
	mu      sync.Mutex
	watches map[uuid.UUID]*deadlineWatch

	tick     time.Duration
	now      func() time.Time
	onExpire AutoSubmitFunc
	log      zerolog.Logger
}

type deadlineWatch struct {
	deadline time.Time
	fired    bool
	stop     chan struct{}
}

// NewDeadlineScheduler creates a scheduler. tick and now are injectable so
// tests can run the countdown at millisecond scale.
func NewDeadlineScheduler(tick time.Duration, now func() time.Time, log zerolog.Logger) *DeadlineScheduler {
	if tick <= 0 {
		tick = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &DeadlineScheduler{
		watches: make(map[uuid.UUID]*deadlineWatch),
		tick:    tick,
		now:     now,
		log:     log.With().Str("component", "deadline_scheduler").Logger(),
	}
}

// SetAutoSubmit wires the expiry callback. Must be called before Watch;
// it is separate from the constructor because the submit path and the
// scheduler reference each other.
func (s *DeadlineScheduler) SetAutoSubmit(fn AutoSubmitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpire = fn
}

// Watch starts the countdown for one session. Watching an already-watched
// session is a no-op, so resume after reload cannot double-arm a timer.
// A deadline already in the past fires immediately (still exactly once).
func (s *DeadlineScheduler) Watch(sessionID uuid.UUID, startedAt time.Time, limit time.Duration) {
	s.mu.Lock()
	if _, ok := s.watches[sessionID]; ok {
		s.mu.Unlock()
		return
	}
	w := &deadlineWatch{
		deadline: startedAt.Add(limit),
		stop:     make(chan struct{}),
	}
	s.watches[sessionID] = w
	s.mu.Unlock()

	s.log.Debug().
		Str("session_id", sessionID.String()).
		Time("deadline", w.deadline).
		Msg("Watching session deadline")

	go s.run(sessionID, w)
}

func (s *DeadlineScheduler) run(sessionID uuid.UUID, w *deadlineWatch) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	// Check once up front so rehydrated, already-expired sessions are
	// submitted without waiting for the first tick.
	if s.expireIfDue(sessionID, w) {
		return
	}

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if s.expireIfDue(sessionID, w) {
				return
			}
		}
	}
}

// expireIfDue fires the auto-submit at the first observed zero crossing.
// Returns true once the watch is done.
func (s *DeadlineScheduler) expireIfDue(sessionID uuid.UUID, w *deadlineWatch) bool {
	s.mu.Lock()
	remaining := w.deadline.Sub(s.now())
	if remaining > 0 || w.fired {
		fired := w.fired
		s.mu.Unlock()
		return fired
	}
	w.fired = true
	fn := s.onExpire
	s.mu.Unlock()

	s.log.Info().Str("session_id", sessionID.String()).Msg("Time limit reached, auto-submitting")
	if fn != nil {
		fn(sessionID)
	}
	return true
}

// Cancel stops the countdown for a session. Called on submit and exit.
func (s *DeadlineScheduler) Cancel(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[sessionID]
	if !ok {
		return
	}
	delete(s.watches, sessionID)
	if !w.fired {
		close(w.stop)
	}
}

// Stop cancels every active watch. Called on shutdown; watches are
// rehydrated from the store on the next boot.
func (s *DeadlineScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.watches {
		delete(s.watches, id)
		if !w.fired {
			close(w.stop)
		}
	}
}

// Remaining returns the time left on a watched session, clamped at zero.
func (s *DeadlineScheduler) Remaining(sessionID uuid.UUID) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[sessionID]
	if !ok {
		return 0, false
	}
	remaining := w.deadline.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}
