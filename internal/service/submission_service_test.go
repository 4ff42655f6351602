package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/evaluator"
	"github.com/classworks/assess-backend/internal/model"
)

type submitFixture struct {
	svc    *SubmissionService
	store  *fakeSessionStore
	eval   *fakeEvaluator
	sink   *recordingSink
	cache  *fakeStateCache
	events *recordingPublisher
}

func newSubmitFixture(t *testing.T, eval *fakeEvaluator) *submitFixture {
	t.Helper()
	store := newFakeSessionStore()
	sink := &recordingSink{}
	cache := newFakeStateCache()
	events := &recordingPublisher{}
	sched := NewDeadlineScheduler(time.Hour, time.Now, zerolog.Nop())
	sched.SetAutoSubmit(func(uuid.UUID) {})
	t.Cleanup(sched.Stop)

	svc := NewSubmissionService(store, eval, sink, events, NewTrackerRegistry(), sched, cache, 4, zerolog.Nop())
	return &submitFixture{svc: svc, store: store, eval: eval, sink: sink, cache: cache, events: events}
}

func seedSession(t *testing.T, store *fakeSessionStore, responses map[string]json.RawMessage) *model.AssessmentSession {
	t.Helper()
	sess := &model.AssessmentSession{
		ID:               uuid.New(),
		StudentKey:       "alice",
		CourseID:         "c1",
		AssessmentItemID: "quiz-1",
		Status:           model.SessionStatusInProgress,
		StartedAt:        time.Now(),
		AttemptNumber:    1,
		MaxAttempts:      1,
		Questions: []model.Question{
			{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice, Points: 5},
			{QuestionID: "q2", Type: model.QuestionTypeShortAnswer, Points: 10},
			{QuestionID: "q3", Type: model.QuestionTypeLongAnswer, Points: 15},
		},
		Responses: responses,
	}
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func TestSubmitSkipsEvaluatorForUnansweredQuestions(t *testing.T) {
	eval := &fakeEvaluator{verdicts: map[string]evaluator.Result{
		"q1": {IsCorrect: true},
		"q2": {IsCorrect: false, Feedback: "close, but not quite"},
	}}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
		"q2": json.RawMessage(`"photosynthesis"`),
	})

	results, err := f.svc.Submit(context.Background(), "alice", sess.ID, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if eval.callCount() != 2 {
		t.Fatalf("evaluator called %d times, want 2 (answered questions only)", eval.callCount())
	}

	var q3 *model.QuestionResult
	for i := range results.PerQuestion {
		if results.PerQuestion[i].QuestionID == "q3" {
			q3 = &results.PerQuestion[i]
		}
	}
	if q3 == nil {
		t.Fatal("q3 missing from per-question results")
	}
	if q3.Answered || q3.PointsAwarded != 0 || q3.Feedback != "No answer provided" {
		t.Fatalf("unanswered result = %+v", *q3)
	}
}

func TestSubmitScoreArithmetic(t *testing.T) {
	eval := &fakeEvaluator{verdicts: map[string]evaluator.Result{
		"q1": {IsCorrect: true},
		"q2": {IsCorrect: false},
	}}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
		"q2": json.RawMessage(`"wrong"`),
	})

	results, err := f.svc.Submit(context.Background(), "alice", sess.ID, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if results.Score != 5 || results.MaxScore != 30 {
		t.Fatalf("score = %v/%v, want 5/30", results.Score, results.MaxScore)
	}
	// 5/30 = 16.67%, rounded.
	if results.Percentage != 17 {
		t.Fatalf("percentage = %d, want 17", results.Percentage)
	}
	if results.CorrectAnswers != 1 || results.TotalQuestions != 3 {
		t.Fatalf("counts = %d/%d, want 1/3", results.CorrectAnswers, results.TotalQuestions)
	}
}

func TestSubmitIsolatesEvaluatorFailures(t *testing.T) {
	eval := &fakeEvaluator{
		verdicts: map[string]evaluator.Result{"q1": {IsCorrect: true}},
		errs:     map[string]error{"q2": errors.New("connection refused")},
	}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
		"q2": json.RawMessage(`"essay text"`),
	})

	results, err := f.svc.Submit(context.Background(), "alice", sess.ID, false)
	if err != nil {
		t.Fatalf("one failed evaluation must not abort the submit: %v", err)
	}

	byID := make(map[string]model.QuestionResult)
	for _, r := range results.PerQuestion {
		byID[r.QuestionID] = r
	}
	if byID["q2"].Error != "Evaluation failed" || byID["q2"].PointsAwarded != 0 {
		t.Fatalf("failed question result = %+v", byID["q2"])
	}
	if !byID["q1"].IsCorrect || byID["q1"].PointsAwarded != 5 {
		t.Fatalf("healthy question result = %+v", byID["q1"])
	}
	if results.Score != 5 {
		t.Fatalf("score = %v, want 5", results.Score)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	eval := &fakeEvaluator{verdicts: map[string]evaluator.Result{"q1": {IsCorrect: true}}}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
	})

	first, err := f.svc.Submit(context.Background(), "alice", sess.ID, false)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	callsAfterFirst := eval.callCount()

	second, err := f.svc.Submit(context.Background(), "alice", sess.ID, true)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if second.Score != first.Score || second.Percentage != first.Percentage {
		t.Fatalf("re-submit changed results: %+v vs %+v", second, first)
	}
	if eval.callCount() != callsAfterFirst {
		t.Fatal("re-submit re-ran the evaluator")
	}
	if got := len(f.sink.all()); got != 1 {
		t.Fatalf("gradebook received %d scores, want 1", got)
	}
}

func TestSubmitFinalizesSessionAndCleansUp(t *testing.T) {
	eval := &fakeEvaluator{verdicts: map[string]evaluator.Result{"q1": {IsCorrect: true}}}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
	})

	if _, err := f.svc.Submit(context.Background(), "alice", sess.ID, false); err != nil {
		t.Fatalf("submit: %v", err)
	}

	stored, _ := f.store.GetByID(context.Background(), sess.ID)
	if stored.Status != model.SessionStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if stored.FinalResults == nil || stored.EndedAt == nil {
		t.Fatal("final results or ended_at missing after submit")
	}

	scores := f.sink.all()
	if len(scores) != 1 || scores[0].Score != 5 || scores[0].MaxScore != 30 ||
		scores[0].StudentKey != "alice" || scores[0].ItemID != "quiz-1" {
		t.Fatalf("gradebook scores = %+v", scores)
	}

	if f.cache.cleared != 1 {
		t.Fatalf("state cache cleared %d times, want 1", f.cache.cleared)
	}
	if got := f.events.byType(EventSessionSubmit); len(got) != 1 {
		t.Fatalf("submit events = %d, want 1", len(got))
	}
}

func TestSubmitRejectsForeignAndUnknownSessions(t *testing.T) {
	eval := &fakeEvaluator{}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, nil)

	if _, err := f.svc.Submit(context.Background(), "mallory", sess.ID, false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign submit err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.Submit(context.Background(), "alice", uuid.New(), false); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("unknown submit err = %v, want ErrSessionNotFound", err)
	}
}

func TestSubmitEmptyAnswersCountAsUnanswered(t *testing.T) {
	eval := &fakeEvaluator{}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`""`),
		"q2": json.RawMessage(`null`),
	})

	results, err := f.svc.Submit(context.Background(), "alice", sess.ID, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if eval.callCount() != 0 {
		t.Fatalf("evaluator called %d times for empty answers, want 0", eval.callCount())
	}
	if results.Score != 0 || results.CorrectAnswers != 0 {
		t.Fatalf("results = %+v, want zero score", results)
	}
}

func TestSubmitReleasesSessionLock(t *testing.T) {
	eval := &fakeEvaluator{verdicts: map[string]evaluator.Result{
		"q1": {IsCorrect: true},
	}}
	f := newSubmitFixture(t, eval)
	sess := seedSession(t, f.store, map[string]json.RawMessage{
		"q1": json.RawMessage(`"A"`),
	})

	if _, err := f.svc.Submit(context.Background(), "alice", sess.ID, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Resubmit exercises the idempotent path through the same lock.
	if _, err := f.svc.Submit(context.Background(), "alice", sess.ID, false); err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	f.svc.mu.Lock()
	held := len(f.svc.inflight)
	f.svc.mu.Unlock()
	if held != 0 {
		t.Fatalf("inflight locks after settle = %d, want 0", held)
	}
}
