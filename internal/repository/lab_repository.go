package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/classworks/assess-backend/internal/model"
)

// ErrLabFrozen is returned when a save targets a lab that was already submitted.
var ErrLabFrozen = errors.New("lab submission is frozen")

// LabRepository handles lab submission persistence.
type LabRepository struct {
	pool *pgxpool.Pool
}

// NewLabRepository creates a new LabRepository.
func NewLabRepository(pool *pgxpool.Pool) *LabRepository {
	return &LabRepository{pool: pool}
}

// Get retrieves one lab submission, or pgx.ErrNoRows when none exists yet.
func (r *LabRepository) Get(ctx context.Context, studentKey, courseID, labID string) (*model.LabSubmission, error) {
	sub := &model.LabSubmission{}
	var sectionRaw, dataRaw []byte

	err := r.pool.QueryRow(ctx,
		`SELECT student_key, course_id, lab_id, section_status, lab_data,
		        completion_percentage, status, submitted, points_value,
		        allow_partial_credit, version, created_at, last_modified
		 FROM lab_submissions
		 WHERE student_key = $1 AND course_id = $2 AND lab_id = $3`,
		studentKey, courseID, labID,
	).Scan(
		&sub.StudentKey, &sub.CourseID, &sub.LabID, &sectionRaw, &dataRaw,
		&sub.CompletionPercentage, &sub.Status, &sub.Submitted, &sub.PointsValue,
		&sub.AllowPartialCredit, &sub.Version, &sub.Timestamp, &sub.LastModified,
	)
	if err != nil {
		return nil, err
	}

	if len(sectionRaw) > 0 {
		if err := json.Unmarshal(sectionRaw, &sub.SectionStatus); err != nil {
			return nil, fmt.Errorf("decode section status: %w", err)
		}
	}
	sub.LabData = make(map[string]json.RawMessage)
	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &sub.LabData); err != nil {
			return nil, fmt.Errorf("decode lab data: %w", err)
		}
	}
	return sub, nil
}

// Save upserts a lab submission. The first save creates the row with
// version = 1 and sets created_at once; every later save bumps version by
// exactly one and leaves created_at untouched. A row that was already
// submitted refuses the update and ErrLabFrozen is returned.
func (r *LabRepository) Save(ctx context.Context, sub *model.LabSubmission) error {
	sectionRaw, err := json.Marshal(sub.SectionStatus)
	if err != nil {
		return fmt.Errorf("encode section status: %w", err)
	}
	dataRaw, err := json.Marshal(sub.LabData)
	if err != nil {
		return fmt.Errorf("encode lab data: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO lab_submissions
		   (student_key, course_id, lab_id, section_status, lab_data,
		    completion_percentage, status, submitted, points_value,
		    allow_partial_credit, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
		 ON CONFLICT (student_key, course_id, lab_id) DO UPDATE
		 SET section_status = EXCLUDED.section_status,
		     lab_data = EXCLUDED.lab_data,
		     completion_percentage = EXCLUDED.completion_percentage,
		     status = EXCLUDED.status,
		     submitted = EXCLUDED.submitted,
		     points_value = EXCLUDED.points_value,
		     allow_partial_credit = EXCLUDED.allow_partial_credit,
		     version = lab_submissions.version + 1,
		     last_modified = NOW()
		 WHERE lab_submissions.submitted = FALSE
		 RETURNING version, created_at, last_modified`,
		sub.StudentKey, sub.CourseID, sub.LabID, sectionRaw, dataRaw,
		sub.CompletionPercentage, sub.Status, sub.Submitted, sub.PointsValue,
		sub.AllowPartialCredit,
	).Scan(&sub.Version, &sub.Timestamp, &sub.LastModified)

	if errors.Is(err, pgx.ErrNoRows) {
		// The conflict update was filtered out: the existing row is frozen.
		return ErrLabFrozen
	}
	return err
}
