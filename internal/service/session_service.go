package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/repository"
)

// SessionStore is the durable Session Store contract the lifecycle manager
// drives. *repository.SessionRepository is the production implementation.
type SessionStore interface {
	GetByID(ctx context.Context, sessionID uuid.UUID) (*model.AssessmentSession, error)
	GetActive(ctx context.Context, studentKey, courseID, itemID string) (*model.AssessmentSession, error)
	ListByStudentAndItem(ctx context.Context, studentKey, courseID, itemID string) ([]model.AssessmentSession, error)
	Create(ctx context.Context, s *model.AssessmentSession) error
	MergeResponse(ctx context.Context, sessionID uuid.UUID, questionID string, answer json.RawMessage) error
	Finalize(ctx context.Context, sessionID uuid.UUID, results *model.FinalResults) error
	MarkExited(ctx context.Context, sessionID uuid.UUID) error
	ListInProgressTimed(ctx context.Context) ([]model.AssessmentSession, error)
}

// DetectResult is the outcome of session detection for one assessment.
type DetectResult struct {
	ActiveSession     *model.AssessmentSession  `json:"active_session,omitempty"`
	ResumableSession  *model.AssessmentSession  `json:"resumable_session,omitempty"`
	Attempts          model.AttemptsSummary     `json:"attempts"`
	CompletedSessions []model.AssessmentSession `json:"completed_sessions"`
}

// SessionService is the session lifecycle manager: it detects, starts,
// resumes, and exits attempts, and enforces attempt limits. Grading lives in
// SubmissionService; the two communicate only through the Session Store.
type SessionService struct {
	store    SessionStore
	events   EventPublisher
	trackers *TrackerRegistry
	sched    *DeadlineScheduler
	cache    StateCache
	now      func() time.Time
	log      zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	store SessionStore,
	events EventPublisher,
	trackers *TrackerRegistry,
	sched *DeadlineScheduler,
	cache StateCache,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		store:    store,
		events:   events,
		trackers: trackers,
		sched:    sched,
		cache:    cache,
		now:      time.Now,
		log:      log.With().Str("component", "session_service").Logger(),
	}
}

// Detect queries the store for existing attempts and classifies them: an
// in_progress session within its time limit is active (resumed
// transparently); an in_progress session past its limit is resumable (the
// student chooses to resume or discard); everything else feeds the attempts
// summary.
func (s *SessionService) Detect(ctx context.Context, studentKey, courseID, itemID string) (*DetectResult, error) {
	sessions, err := s.store.ListByStudentAndItem(ctx, studentKey, courseID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	result := &DetectResult{CompletedSessions: []model.AssessmentSession{}}
	now := s.now()
	maxAttempts := 0

	for i := range sessions {
		sess := sessions[i]
		if sess.MaxAttempts > maxAttempts {
			maxAttempts = sess.MaxAttempts
		}
		switch sess.Status {
		case model.SessionStatusInProgress:
			if sess.Expired(now) {
				result.ResumableSession = &sessions[i]
			} else {
				result.ActiveSession = &sessions[i]
			}
		case model.SessionStatusCompleted:
			result.CompletedSessions = append(result.CompletedSessions, sess)
		}
	}

	used := len(sessions)
	remaining := maxAttempts - used
	if remaining < 0 {
		remaining = 0
	}
	result.Attempts = model.AttemptsSummary{
		AttemptsUsed:       used,
		MaxAttempts:        maxAttempts,
		AttemptsRemaining:  remaining,
		CanStartNewAttempt: result.ActiveSession == nil && (maxAttempts == 0 || used < maxAttempts),
	}

	return result, nil
}

// Start creates a new attempt. A still-active session is returned as-is
// (idempotent start); an expired-but-unfinalized session is abandoned first,
// and the new attempt counts against the limit. Fails with
// ErrAttemptsExhausted when no attempts remain.
func (s *SessionService) Start(ctx context.Context, studentKey, courseID, itemID string, req *model.StartSessionRequest) (*model.AssessmentSession, error) {
	detect, err := s.Detect(ctx, studentKey, courseID, itemID)
	if err != nil {
		return nil, err
	}

	if active := detect.ActiveSession; active != nil {
		// Resume path: the caller gets the existing attempt back.
		s.armWatch(active)
		return active, nil
	}

	if detect.Attempts.AttemptsUsed >= req.MaxAttempts {
		return nil, ErrAttemptsExhausted
	}

	if stale := detect.ResumableSession; stale != nil {
		// Starting fresh discards the expired attempt.
		if err := s.store.MarkExited(ctx, stale.ID); err != nil && !errors.Is(err, repository.ErrNoActiveSession) {
			return nil, fmt.Errorf("discard stale session: %w", err)
		}
		s.sched.Cancel(stale.ID)
		s.trackers.Drop(stale.ID)
	}

	session := &model.AssessmentSession{
		ID:               uuid.New(),
		StudentKey:       studentKey,
		CourseID:         courseID,
		AssessmentItemID: itemID,
		Status:           model.SessionStatusInProgress,
		StartedAt:        s.now(),
		TimeLimitMinutes: req.TimeLimitMinutes,
		AttemptNumber:    detect.Attempts.AttemptsUsed + 1,
		MaxAttempts:      req.MaxAttempts,
		Questions:        req.Questions,
		Responses:        map[string]json.RawMessage{},
	}

	if err := s.store.Create(ctx, session); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start from another tab: the partial unique index
			// rejected this insert. Return the winner's session instead.
			existing, fetchErr := s.store.GetActive(ctx, studentKey, courseID, itemID)
			if fetchErr != nil {
				return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
			}
			s.armWatch(existing)
			return existing, nil
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.cache.SetStartTime(ctx, session.ID, session.StartedAt); err != nil {
		s.log.Warn().Err(err).Msg("Start time cache write failed")
	}
	s.armWatch(session)
	s.events.Publish(ctx, SessionEvent{
		SessionID:  session.ID,
		StudentKey: studentKey,
		Type:       EventSessionCreated,
		At:         s.now(),
	})

	return session, nil
}

// SaveAnswer persists one answer into the session's responses. The deadline
// is re-validated here regardless of client timing: saves after the limit
// are rejected even if the client never auto-submitted.
func (s *SessionService) SaveAnswer(ctx context.Context, studentKey string, sessionID uuid.UUID, questionID string, answer json.RawMessage) error {
	session, err := s.authorize(ctx, studentKey, sessionID)
	if err != nil {
		return err
	}
	if session.Status != model.SessionStatusInProgress {
		return ErrSessionNotActive
	}
	if session.Expired(s.now()) {
		return ErrSessionExpired
	}
	if !session.HasQuestion(questionID) {
		return ErrUnknownQuestion
	}

	if err := s.store.MergeResponse(ctx, sessionID, questionID, answer); err != nil {
		if errors.Is(err, repository.ErrNoActiveSession) {
			return ErrSessionNotActive
		}
		return fmt.Errorf("merge response: %w", err)
	}

	// Mirror the save into the hot answer cache and the in-memory tracker.
	if err := s.cache.SetAnswer(ctx, sessionID, questionID, string(answer)); err != nil {
		s.log.Warn().Err(err).Msg("Answer cache write failed")
	}
	s.trackerFor(session).MarkSaved(questionID, string(answer))

	s.events.Publish(ctx, SessionEvent{
		SessionID:  sessionID,
		StudentKey: studentKey,
		Type:       EventAnswerSaved,
		QuestionID: questionID,
		At:         s.now(),
	})
	return nil
}

// ChangeAnswer updates only the in-memory pending view. Nothing is
// persisted; the question joins the unsaved-changes set until saved.
func (s *SessionService) ChangeAnswer(ctx context.Context, studentKey string, sessionID uuid.UUID, questionID, answer string) ([]string, error) {
	session, err := s.authorize(ctx, studentKey, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != model.SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}
	if !session.HasQuestion(questionID) {
		return nil, ErrUnknownQuestion
	}

	tracker := s.trackerFor(session)
	tracker.Change(questionID, answer)
	return tracker.UnsavedChanges(), nil
}

// GetState returns the resume payload: saved answers (hot cache with store
// fallback), the unsaved-changes set, and remaining seconds for timed
// sessions.
func (s *SessionService) GetState(ctx context.Context, studentKey string, sessionID uuid.UUID) (*model.SessionState, error) {
	session, err := s.authorize(ctx, studentKey, sessionID)
	if err != nil {
		return nil, err
	}

	saved := s.loadSavedAnswers(ctx, session)

	state := &model.SessionState{
		SessionID:      session.ID,
		Status:         session.Status,
		SavedAnswers:   saved,
		UnsavedChanges: []string{},
	}

	if tracker, ok := s.trackers.Lookup(sessionID); ok {
		state.UnsavedChanges = tracker.UnsavedChanges()
	}

	if session.TimeLimitMinutes != nil && session.Status == model.SessionStatusInProgress {
		deadline := s.startTimeFor(ctx, session).Add(time.Duration(*session.TimeLimitMinutes) * time.Minute)
		remaining := deadline.Sub(s.now()).Seconds()
		if remaining < 0 {
			remaining = 0
		}
		state.RemainingSeconds = &remaining
	}

	return state, nil
}

// startTimeFor resolves the session's start time cache-first. A miss falls
// back to the store row and heals the cache for the next reload.
func (s *SessionService) startTimeFor(ctx context.Context, session *model.AssessmentSession) time.Time {
	start, err := s.cache.GetStartTime(ctx, session.ID)
	if err == nil {
		return start
	}
	if errors.Is(err, ErrCacheMiss) {
		if healErr := s.cache.SetStartTime(ctx, session.ID, session.StartedAt); healErr != nil {
			s.log.Warn().Err(healErr).Str("session_id", session.ID.String()).Msg("Start time cache heal failed")
		}
	} else {
		s.log.Warn().Err(err).Str("session_id", session.ID.String()).Msg("Start time cache read failed")
	}
	return session.StartedAt
}

// Exit acknowledges a student leaving the session. The session row stays
// in_progress for later resumption unless abandon is set. Persistence
// failures are logged, not surfaced: the caller proceeds optimistically.
func (s *SessionService) Exit(ctx context.Context, studentKey string, sessionID uuid.UUID, abandon bool) {
	session, err := s.authorize(ctx, studentKey, sessionID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Exit on unknown session")
		return
	}

	if !abandon || session.Status != model.SessionStatusInProgress {
		return
	}

	if err := s.store.MarkExited(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrNoActiveSession) {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Mark exited failed")
		return
	}
	s.sched.Cancel(sessionID)
	s.trackers.Drop(sessionID)
	s.events.Publish(ctx, SessionEvent{
		SessionID:  sessionID,
		StudentKey: studentKey,
		Type:       EventSessionExited,
		At:         s.now(),
	})
}

// GetSession returns a session after an ownership check.
func (s *SessionService) GetSession(ctx context.Context, studentKey string, sessionID uuid.UUID) (*model.AssessmentSession, error) {
	return s.authorize(ctx, studentKey, sessionID)
}

// RehydrateWatches re-arms deadline watches for every timed in_progress
// session. Called once at boot so a restart cannot silently drop
// auto-submits.
func (s *SessionService) RehydrateWatches(ctx context.Context) error {
	sessions, err := s.store.ListInProgressTimed(ctx)
	if err != nil {
		return fmt.Errorf("list timed sessions: %w", err)
	}
	for i := range sessions {
		s.armWatch(&sessions[i])
	}
	if len(sessions) > 0 {
		s.log.Info().Int("count", len(sessions)).Msg("Rehydrated deadline watches")
	}
	return nil
}

func (s *SessionService) authorize(ctx context.Context, studentKey string, sessionID uuid.UUID) (*model.AssessmentSession, error) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	// Ownership failures read as not-found so session ids cannot be probed.
	if session.StudentKey != studentKey {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) armWatch(session *model.AssessmentSession) {
	if session.TimeLimitMinutes == nil || session.Status != model.SessionStatusInProgress {
		return
	}
	s.sched.Watch(session.ID, session.StartedAt, time.Duration(*session.TimeLimitMinutes)*time.Minute)
}

func (s *SessionService) trackerFor(session *model.AssessmentSession) *AnswerTracker {
	return s.trackers.GetOrCreate(session.ID, func() map[string]string {
		seed := make(map[string]string, len(session.Responses))
		for q, a := range session.Responses {
			seed[q] = string(a)
		}
		return seed
	})
}

// loadSavedAnswers reads the hot answer cache, falling back to the store
// copy on a miss and self-healing the cache for the next reload.
func (s *SessionService) loadSavedAnswers(ctx context.Context, session *model.AssessmentSession) map[string]string {
	cached, err := s.cache.Answers(ctx, session.ID)
	if err == nil && len(cached) > 0 {
		return cached
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("Answer cache read failed, using store")
	}

	saved := make(map[string]string, len(session.Responses))
	for q, a := range session.Responses {
		saved[q] = string(a)
	}

	if err := s.cache.FillAnswers(ctx, session.ID, saved); err != nil {
		s.log.Warn().Err(err).Msg("Answer cache self-heal failed")
	}

	return saved
}
