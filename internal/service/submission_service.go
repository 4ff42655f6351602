package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/evaluator"
	"github.com/classworks/assess-backend/internal/gradebook"
	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/repository"
)

// SubmissionService aggregates a session's answers into final results. It
// fans answered questions out to the evaluator, waits for every verdict,
// finalizes the session exactly once, and hands the score to the gradebook
// queue.
type SubmissionService struct {
	store    SessionStore
	eval     evaluator.Evaluator
	sink     gradebook.Sink
	events   EventPublisher
	trackers *TrackerRegistry
	sched    *DeadlineScheduler
	cache    StateCache
	parallel int
	now      func() time.Time
	log      zerolog.Logger

	// One in-flight submit per session. Guards the read-grade-finalize
	// sequence against the double-submit race (manual + auto firing together).
	// Entries are refcounted and evicted once the last waiter releases.
	mu       sync.Mutex
	inflight map[uuid.UUID]*submitLock
}

type submitLock struct {
	mu   sync.Mutex
	refs int
}

// NewSubmissionService creates a new SubmissionService. parallel bounds
// concurrent evaluator calls per submission.
func NewSubmissionService(
	store SessionStore,
	eval evaluator.Evaluator,
	sink gradebook.Sink,
	events EventPublisher,
	trackers *TrackerRegistry,
	sched *DeadlineScheduler,
	cache StateCache,
	parallel int,
	log zerolog.Logger,
) *SubmissionService {
	if parallel < 1 {
		parallel = 1
	}
	return &SubmissionService{
		store:    store,
		eval:     eval,
		sink:     sink,
		events:   events,
		trackers: trackers,
		sched:    sched,
		cache:    cache,
		parallel: parallel,
		now:      time.Now,
		log:      log.With().Str("component", "submission_service").Logger(),
		inflight: make(map[uuid.UUID]*submitLock),
	}
}

// Submit grades and finalizes a session. Re-submitting a completed session
// returns the stored results unchanged.
func (s *SubmissionService) Submit(ctx context.Context, studentKey string, sessionID uuid.UUID, autoSubmit bool) (*model.FinalResults, error) {
	lock := s.acquire(sessionID)
	defer s.release(sessionID, lock)

	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if session.StudentKey != studentKey {
		return nil, ErrSessionNotFound
	}

	switch session.Status {
	case model.SessionStatusCompleted:
		// Idempotent: the first submit won, return its results.
		return session.FinalResults, nil
	case model.SessionStatusInProgress:
	default:
		return nil, ErrSessionNotActive
	}

	results := s.grade(ctx, session)

	if err := s.store.Finalize(ctx, sessionID, results); err != nil {
		if errors.Is(err, repository.ErrNoActiveSession) {
			// Lost a finalize race across processes; the winner's results stand.
			settled, readErr := s.store.GetByID(ctx, sessionID)
			if readErr == nil && settled.Status == model.SessionStatusCompleted {
				return settled.FinalResults, nil
			}
			return nil, ErrSessionNotActive
		}
		// The session stays in_progress; the student can retry the submit.
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	s.sched.Cancel(sessionID)
	s.trackers.Drop(sessionID)
	if err := s.cache.Clear(context.WithoutCancel(ctx), sessionID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("State cache clear failed")
	}

	s.events.Publish(ctx, SessionEvent{
		SessionID:  sessionID,
		StudentKey: studentKey,
		Type:       EventSessionSubmit,
		At:         s.now(),
	})

	if err := s.sink.Enqueue(ctx, gradebook.Score{
		StudentKey: session.StudentKey,
		CourseID:   session.CourseID,
		ItemID:     session.AssessmentItemID,
		Score:      results.Score,
		MaxScore:   results.MaxScore,
	}); err != nil {
		// The score lives in final_results either way; the sync worker retries.
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Gradebook enqueue failed")
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Bool("auto_submit", autoSubmit).
		Float64("score", results.Score).
		Float64("max_score", results.MaxScore).
		Msg("Session finalized")

	return results, nil
}

// AutoSubmit is the deadline scheduler's expiry callback.
func (s *SubmissionService) AutoSubmit(ctx context.Context, sessionID uuid.UUID) {
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Auto-submit lookup failed")
		return
	}
	if _, err := s.Submit(ctx, session.StudentKey, sessionID, true); err != nil &&
		!errors.Is(err, ErrSessionNotActive) {
		s.log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Auto-submit failed")
	}
}

// grade evaluates every question of the session. Answered questions go to
// the evaluator under a bounded worker pool; unanswered ones get synthetic
// zero-credit results without an evaluator round-trip. Each question slot is
// written by exactly one goroutine, and the WaitGroup join guarantees all
// verdicts are in before scoring.
func (s *SubmissionService) grade(ctx context.Context, session *model.AssessmentSession) *model.FinalResults {
	perQuestion := make([]model.QuestionResult, len(session.Questions))

	var wg sync.WaitGroup
	sem := make(chan struct{}, s.parallel)

	for i, q := range session.Questions {
		answer, answered := session.Responses[q.QuestionID]
		if !answered || emptyAnswer(string(answer)) {
			perQuestion[i] = model.QuestionResult{
				QuestionID: q.QuestionID,
				Type:       q.Type,
				Points:     q.Points,
				Feedback:   "No answer provided",
			}
			continue
		}

		wg.Add(1)
		go func(slot int, q model.Question, answer json.RawMessage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			perQuestion[slot] = s.evaluateOne(ctx, q, answer)
		}(i, q, answer)
	}
	wg.Wait()

	results := &model.FinalResults{
		TotalQuestions: len(session.Questions),
		PerQuestion:    perQuestion,
	}
	for _, r := range perQuestion {
		results.MaxScore += r.Points
		results.Score += r.PointsAwarded
		if r.IsCorrect {
			results.CorrectAnswers++
		}
	}
	if results.MaxScore > 0 {
		results.Percentage = int(math.Round(results.Score / results.MaxScore * 100))
	}
	return results
}

// evaluateOne asks the evaluator for a verdict on one answered question.
// Evaluator failures zero the question but never abort the submission.
func (s *SubmissionService) evaluateOne(ctx context.Context, q model.Question, answer json.RawMessage) model.QuestionResult {
	result := model.QuestionResult{
		QuestionID: q.QuestionID,
		Type:       q.Type,
		Points:     q.Points,
		Answered:   true,
	}

	if !model.ValidQuestionType(q.Type) {
		s.log.Error().Str("question_id", q.QuestionID).Str("type", string(q.Type)).Msg("Unknown question type")
		result.Error = "Unknown question type"
		return result
	}

	verdict, err := s.eval.Evaluate(ctx, q, answer)
	if err != nil {
		s.log.Error().Err(err).Str("question_id", q.QuestionID).Msg("Evaluation failed")
		result.Error = "Evaluation failed"
		return result
	}

	result.IsCorrect = verdict.IsCorrect
	result.Feedback = verdict.Feedback
	if verdict.IsCorrect {
		result.PointsAwarded = q.Points
	}
	return result
}

func (s *SubmissionService) acquire(sessionID uuid.UUID) *submitLock {
	s.mu.Lock()
	lock, ok := s.inflight[sessionID]
	if !ok {
		lock = &submitLock{}
		s.inflight[sessionID] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *SubmissionService) release(sessionID uuid.UUID, lock *submitLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.inflight, sessionID)
	}
	s.mu.Unlock()
}
