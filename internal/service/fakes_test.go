package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/classworks/assess-backend/internal/evaluator"
	"github.com/classworks/assess-backend/internal/gradebook"
	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/repository"
)

// fakeSessionStore mimics the repository's conditional-write semantics in
// memory: one active session per (student, course, item), CAS finalize.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.AssessmentSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[uuid.UUID]*model.AssessmentSession)}
}

func (s *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *sess
	return &cp, nil
}

func (s *fakeSessionStore) GetActive(_ context.Context, studentKey, courseID, itemID string) (*model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.StudentKey == studentKey && sess.CourseID == courseID &&
			sess.AssessmentItemID == itemID && sess.Status == model.SessionStatusInProgress {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (s *fakeSessionStore) ListByStudentAndItem(_ context.Context, studentKey, courseID, itemID string) ([]model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AssessmentSession
	for _, sess := range s.sessions {
		if sess.StudentKey == studentKey && sess.CourseID == courseID && sess.AssessmentItemID == itemID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) Create(_ context.Context, sess *model.AssessmentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.StudentKey == sess.StudentKey && existing.CourseID == sess.CourseID &&
			existing.AssessmentItemID == sess.AssessmentItemID && existing.Status == model.SessionStatusInProgress {
			// The partial unique index rejects a second active session.
			return pgx.ErrNoRows
		}
	}
	cp := *sess
	if cp.Responses == nil {
		cp.Responses = map[string]json.RawMessage{}
	}
	s.sessions[cp.ID] = &cp
	return nil
}

func (s *fakeSessionStore) MergeResponse(_ context.Context, id uuid.UUID, questionID string, answer json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.SessionStatusInProgress {
		return repository.ErrNoActiveSession
	}
	if sess.Responses == nil {
		sess.Responses = map[string]json.RawMessage{}
	}
	sess.Responses[questionID] = answer
	return nil
}

func (s *fakeSessionStore) Finalize(_ context.Context, id uuid.UUID, results *model.FinalResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.SessionStatusInProgress {
		return repository.ErrNoActiveSession
	}
	now := time.Now()
	sess.Status = model.SessionStatusCompleted
	sess.FinalResults = results
	sess.EndedAt = &now
	return nil
}

func (s *fakeSessionStore) MarkExited(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.Status != model.SessionStatusInProgress {
		return repository.ErrNoActiveSession
	}
	now := time.Now()
	sess.Status = model.SessionStatusExited
	sess.EndedAt = &now
	return nil
}

func (s *fakeSessionStore) ListInProgressTimed(_ context.Context) ([]model.AssessmentSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AssessmentSession
	for _, sess := range s.sessions {
		if sess.Status == model.SessionStatusInProgress && sess.TimeLimitMinutes != nil {
			out = append(out, *sess)
		}
	}
	return out, nil
}

// fakeStateCache is a map-backed StateCache.
type fakeStateCache struct {
	mu      sync.Mutex
	starts  map[uuid.UUID]time.Time
	answers map[uuid.UUID]map[string]string
	cleared int
}

func newFakeStateCache() *fakeStateCache {
	return &fakeStateCache{
		starts:  make(map[uuid.UUID]time.Time),
		answers: make(map[uuid.UUID]map[string]string),
	}
}

func (c *fakeStateCache) SetStartTime(_ context.Context, id uuid.UUID, start time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts[id] = start
	return nil
}

func (c *fakeStateCache) GetStartTime(_ context.Context, id uuid.UUID) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.starts[id]
	if !ok {
		return time.Time{}, ErrCacheMiss
	}
	return start, nil
}

func (c *fakeStateCache) SetAnswer(_ context.Context, id uuid.UUID, questionID, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers[id] == nil {
		c.answers[id] = make(map[string]string)
	}
	c.answers[id][questionID] = answer
	return nil
}

func (c *fakeStateCache) Answers(_ context.Context, id uuid.UUID) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.answers[id]))
	for q, a := range c.answers[id] {
		out[q] = a
	}
	return out, nil
}

func (c *fakeStateCache) FillAnswers(_ context.Context, id uuid.UUID, answers map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(answers) == 0 {
		return nil
	}
	if c.answers[id] == nil {
		c.answers[id] = make(map[string]string)
	}
	for q, a := range answers {
		c.answers[id][q] = a
	}
	return nil
}

func (c *fakeStateCache) Clear(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.starts, id)
	delete(c.answers, id)
	c.cleared++
	return nil
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event SessionEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) byType(t SessionEventType) []SessionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []SessionEvent
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeEvaluator answers from a fixed verdict table and counts calls.
type fakeEvaluator struct {
	mu       sync.Mutex
	calls    int
	verdicts map[string]evaluator.Result
	errs     map[string]error
}

func (e *fakeEvaluator) Evaluate(_ context.Context, q model.Question, _ json.RawMessage) (evaluator.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if err, ok := e.errs[q.QuestionID]; ok {
		return evaluator.Result{}, err
	}
	return e.verdicts[q.QuestionID], nil
}

func (e *fakeEvaluator) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// recordingSink captures gradebook pushes.
type recordingSink struct {
	mu     sync.Mutex
	scores []gradebook.Score
	err    error
}

func (s *recordingSink) Enqueue(_ context.Context, score gradebook.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scores = append(s.scores, score)
	return nil
}

func (s *recordingSink) all() []gradebook.Score {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gradebook.Score(nil), s.scores...)
}
