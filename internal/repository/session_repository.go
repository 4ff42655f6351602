package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classworks/assess-backend/internal/model"
)

// ErrNoActiveSession is returned by conditional writes that require the
// session row to still be in_progress.
var ErrNoActiveSession = errors.New("session is not in progress")

// SessionRepository is the durable Session Store backing assessment attempts.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, student_key, course_id, assessment_item_id, status,
	started_at, ended_at, time_limit_minutes, attempt_number, max_attempts,
	questions, responses, final_results, updated_at`

func scanSession(row pgx.Row) (*model.AssessmentSession, error) {
	s := &model.AssessmentSession{}
	var questionsRaw, responsesRaw, resultsRaw []byte

	err := row.Scan(
		&s.ID, &s.StudentKey, &s.CourseID, &s.AssessmentItemID, &s.Status,
		&s.StartedAt, &s.EndedAt, &s.TimeLimitMinutes, &s.AttemptNumber, &s.MaxAttempts,
		&questionsRaw, &responsesRaw, &resultsRaw, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(questionsRaw, &s.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	s.Responses = make(map[string]json.RawMessage)
	if len(responsesRaw) > 0 {
		if err := json.Unmarshal(responsesRaw, &s.Responses); err != nil {
			return nil, fmt.Errorf("decode responses: %w", err)
		}
	}
	if len(resultsRaw) > 0 {
		s.FinalResults = &model.FinalResults{}
		if err := json.Unmarshal(resultsRaw, s.FinalResults); err != nil {
			return nil, fmt.Errorf("decode final results: %w", err)
		}
	}
	return s, nil
}

// GetByID retrieves one session by its id.
func (r *SessionRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.AssessmentSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE id = $1`, sessionID,
	))
}

// GetActive retrieves the single in_progress session for a
// (student, course, assessment item) tuple, if any.
func (r *SessionRepository) GetActive(ctx context.Context, studentKey, courseID, itemID string) (*model.AssessmentSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE student_key = $1 AND course_id = $2 AND assessment_item_id = $3
		   AND status = 'in_progress'`, studentKey, courseID, itemID,
	))
}

// ListByStudentAndItem retrieves every attempt for a (student, course, item)
// tuple ordered by attempt number.
func (r *SessionRepository) ListByStudentAndItem(ctx context.Context, studentKey, courseID, itemID string) ([]model.AssessmentSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE student_key = $1 AND course_id = $2 AND assessment_item_id = $3
		 ORDER BY attempt_number ASC`, studentKey, courseID, itemID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.AssessmentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// Create inserts a new in_progress session. The partial unique index on
// (student_key, course_id, assessment_item_id) WHERE status = 'in_progress'
// makes this a conditional write: a concurrent start loses the race, the
// insert becomes a no-op and pgx.ErrNoRows is returned so the caller can
// fetch the winner's row instead.
func (r *SessionRepository) Create(ctx context.Context, s *model.AssessmentSession) error {
	questionsRaw, err := json.Marshal(s.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	responsesRaw, err := json.Marshal(s.Responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO assessment_sessions
		   (id, student_key, course_id, assessment_item_id, status,
		    started_at, time_limit_minutes, attempt_number, max_attempts,
		    questions, responses)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (student_key, course_id, assessment_item_id)
		   WHERE status = 'in_progress'
		 DO NOTHING
		 RETURNING started_at, updated_at`,
		s.ID, s.StudentKey, s.CourseID, s.AssessmentItemID, model.SessionStatusInProgress,
		s.StartedAt, s.TimeLimitMinutes, s.AttemptNumber, s.MaxAttempts,
		questionsRaw, responsesRaw,
	).Scan(&s.StartedAt, &s.UpdatedAt)
}

// MergeResponse merges one answer into the session's responses map.
// The write only lands while the session is still in_progress.
func (r *SessionRepository) MergeResponse(ctx context.Context, sessionID uuid.UUID, questionID string, answer json.RawMessage) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET responses = responses || jsonb_build_object($2::text, $3::jsonb),
		     updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		sessionID, questionID, answer,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveSession
	}
	return nil
}

// Finalize writes final_results and flips the session to completed in one
// compare-and-swap update. Losing the race (the session is no longer
// in_progress) returns ErrNoActiveSession and leaves the row untouched.
func (r *SessionRepository) Finalize(ctx context.Context, sessionID uuid.UUID, results *model.FinalResults) error {
	resultsRaw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode final results: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $2, final_results = $3, ended_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		sessionID, model.SessionStatusCompleted, resultsRaw,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveSession
	}
	return nil
}

// MarkExited marks an in_progress session as exited (abandoned). An exit that
// merely leaves the client does not call this; the row stays in_progress for
// later resumption.
func (r *SessionRepository) MarkExited(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $2, ended_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		sessionID, model.SessionStatusExited,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoActiveSession
	}
	return nil
}

// ListInProgressTimed returns every in_progress session that carries a time
// limit. Used at boot to re-arm deadline watches after a restart.
func (r *SessionRepository) ListInProgressTimed(ctx context.Context) ([]model.AssessmentSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM assessment_sessions
		 WHERE status = 'in_progress' AND time_limit_minutes IS NOT NULL`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.AssessmentSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}
