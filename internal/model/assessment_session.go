package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates assessment session states.
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusExited     SessionStatus = "exited"
)

// QuestionType is the closed set of question kinds a session can carry.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeLongAnswer     QuestionType = "long_answer"
)

// ValidQuestionType reports whether t is a member of the closed enum.
func ValidQuestionType(t QuestionType) bool {
	switch t {
	case QuestionTypeMultipleChoice, QuestionTypeShortAnswer, QuestionTypeLongAnswer:
		return true
	}
	return false
}

// Question is one entry of a session's ordered question list.
type Question struct {
	QuestionID string       `json:"question_id" binding:"required"`
	Type       QuestionType `json:"type" binding:"required,oneof=multiple_choice short_answer long_answer"`
	Points     float64      `json:"points" binding:"min=0"`
}

// QuestionResult is the per-question detail inside FinalResults.
type QuestionResult struct {
	QuestionID    string       `json:"question_id"`
	Type          QuestionType `json:"type"`
	Points        float64      `json:"points"`
	PointsAwarded float64      `json:"points_awarded"`
	IsCorrect     bool         `json:"is_correct"`
	Answered      bool         `json:"answered"`
	Feedback      string       `json:"feedback,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// FinalResults is the authoritative scored outcome of one session,
// written exactly once when the session completes.
type FinalResults struct {
	Score          float64          `json:"score"`
	MaxScore       float64          `json:"max_score"`
	Percentage     int              `json:"percentage"`
	CorrectAnswers int              `json:"correct_answers"`
	TotalQuestions int              `json:"total_questions"`
	PerQuestion    []QuestionResult `json:"per_question"`
}

// AssessmentSession represents one attempt at one assessment by one student.
type AssessmentSession struct {
	ID               uuid.UUID                  `json:"id"`
	StudentKey       string                     `json:"student_key"`
	CourseID         string                     `json:"course_id"`
	AssessmentItemID string                     `json:"assessment_item_id"`
	Status           SessionStatus              `json:"status"`
	StartedAt        time.Time                  `json:"started_at"`
	EndedAt          *time.Time                 `json:"ended_at,omitempty"`
	TimeLimitMinutes *int                       `json:"time_limit_minutes,omitempty"`
	AttemptNumber    int                        `json:"attempt_number"`
	MaxAttempts      int                        `json:"max_attempts"`
	Questions        []Question                 `json:"questions"`
	Responses        map[string]json.RawMessage `json:"responses"`
	FinalResults     *FinalResults              `json:"final_results,omitempty"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

// Deadline returns the session's hard end time, or false when untimed.
func (s *AssessmentSession) Deadline() (time.Time, bool) {
	if s.TimeLimitMinutes == nil {
		return time.Time{}, false
	}
	return s.StartedAt.Add(time.Duration(*s.TimeLimitMinutes) * time.Minute), true
}

// Expired reports whether the session's time limit has passed at the given instant.
func (s *AssessmentSession) Expired(now time.Time) bool {
	deadline, ok := s.Deadline()
	if !ok {
		return false
	}
	return now.After(deadline)
}

// HasQuestion reports whether questionID belongs to the session's question set.
func (s *AssessmentSession) HasQuestion(questionID string) bool {
	for _, q := range s.Questions {
		if q.QuestionID == questionID {
			return true
		}
	}
	return false
}

// StartSessionRequest is the payload for starting a new attempt.
type StartSessionRequest struct {
	Questions        []Question `json:"questions" binding:"required,min=1,dive"`
	TimeLimitMinutes *int       `json:"time_limit_minutes" binding:"omitempty,min=1,max=480"`
	MaxAttempts      int        `json:"max_attempts" binding:"required,min=1,max=20"`
}

// SaveAnswerRequest is the payload for persisting one answer.
type SaveAnswerRequest struct {
	QuestionID string          `json:"question_id" binding:"required"`
	Answer     json.RawMessage `json:"answer" binding:"required"`
}

// SubmitSessionRequest is the payload for submitting a session for grading.
type SubmitSessionRequest struct {
	AutoSubmit bool `json:"auto_submit"`
}

// ExitSessionRequest is the payload for leaving a session.
type ExitSessionRequest struct {
	Abandon bool `json:"abandon"`
}

// SessionState is the resume payload returned to a reloading client.
type SessionState struct {
	SessionID        uuid.UUID         `json:"session_id"`
	Status           SessionStatus     `json:"status"`
	SavedAnswers     map[string]string `json:"saved_answers"`
	UnsavedChanges   []string          `json:"unsaved_changes"`
	RemainingSeconds *float64          `json:"remaining_seconds,omitempty"`
}

// AttemptsSummary describes attempt consumption for one (student, assessment).
type AttemptsSummary struct {
	AttemptsUsed       int  `json:"attempts_used"`
	MaxAttempts        int  `json:"max_attempts"`
	AttemptsRemaining  int  `json:"attempts_remaining"`
	CanStartNewAttempt bool `json:"can_start_new_attempt"`
}
