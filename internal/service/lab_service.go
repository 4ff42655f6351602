package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/classworks/assess-backend/internal/gradebook"
	"github.com/classworks/assess-backend/internal/model"
	"github.com/classworks/assess-backend/internal/repository"
)

// LabStore is the persistence contract for lab submissions.
// *repository.LabRepository is the production implementation.
type LabStore interface {
	Get(ctx context.Context, studentKey, courseID, labID string) (*model.LabSubmission, error)
	Save(ctx context.Context, sub *model.LabSubmission) error
}

// LabService computes lab completion and scores, persists submissions, and
// pushes earned scores to the gradebook queue.
type LabService struct {
	store     LabStore
	sink      gradebook.Sink
	threshold int
	maxBytes  int
	log       zerolog.Logger
}

// NewLabService creates a new LabService. threshold is the completion
// percentage at which a lab counts as done; maxBytes caps the serialized
// lab_data payload.
func NewLabService(store LabStore, sink gradebook.Sink, threshold, maxBytes int, log zerolog.Logger) *LabService {
	return &LabService{
		store:     store,
		sink:      sink,
		threshold: threshold,
		maxBytes:  maxBytes,
		log:       log.With().Str("component", "lab_service").Logger(),
	}
}

// Save persists one save of lab work, recomputes completion and score, and
// forwards the score to the gradebook when earned. Submitting freezes the
// row against all later writes.
func (s *LabService) Save(ctx context.Context, studentKey, courseID, labID string, req *model.SaveLabRequest) (*model.SaveLabResult, error) {
	raw, err := json.Marshal(req.LabData)
	if err != nil {
		return nil, fmt.Errorf("encode lab data: %w", err)
	}
	if len(raw) > s.maxBytes {
		return nil, ErrLabTooLarge
	}

	prev, err := s.store.Get(ctx, studentKey, courseID, labID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load previous submission: %w", err)
	}
	if prev != nil && prev.Submitted {
		return nil, ErrLabFrozen
	}

	sub := &model.LabSubmission{
		StudentKey:    studentKey,
		CourseID:      courseID,
		LabID:         labID,
		LabData:       req.LabData,
		SectionStatus: req.SectionStatus,
		Submitted:     req.Submit,
	}

	// Grading settings stick across saves unless the request overrides them.
	if prev != nil {
		sub.PointsValue = prev.PointsValue
		sub.AllowPartialCredit = prev.AllowPartialCredit
	}
	if req.PointsValue != nil {
		sub.PointsValue = *req.PointsValue
	}
	if req.AllowPartialCredit != nil {
		sub.AllowPartialCredit = *req.AllowPartialCredit
	}

	sub.CompletionPercentage = completionPercentage(req)

	if req.Submit {
		if missing := missingRequiredSections(req); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrRequiredSectionMissing, strings.Join(missing, ", "))
		}
	}

	isComplete := sub.CompletionPercentage >= s.threshold
	if isComplete {
		sub.Status = model.LabStatusCompleted
	} else {
		sub.Status = model.LabStatusInProgress
	}

	if err := s.store.Save(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrLabFrozen) {
			return nil, ErrLabFrozen
		}
		return nil, fmt.Errorf("save submission: %w", err)
	}

	score := s.scoreFor(sub, isComplete)

	if isComplete || (sub.AllowPartialCredit && sub.CompletionPercentage > 0) {
		if err := s.sink.Enqueue(ctx, gradebook.Score{
			StudentKey: studentKey,
			CourseID:   courseID,
			ItemID:     labID,
			Score:      score,
			MaxScore:   sub.PointsValue,
		}); err != nil {
			// Score pushes are best-effort; the save already succeeded.
			s.log.Error().Err(err).Str("lab_id", labID).Msg("Gradebook enqueue failed")
		}
	}

	s.log.Debug().
		Str("lab_id", labID).
		Int("completion", sub.CompletionPercentage).
		Int("version", sub.Version).
		Str("save_type", string(req.SaveType)).
		Bool("submitted", sub.Submitted).
		Msg("Lab saved")

	return &model.SaveLabResult{
		CompletionPercentage: sub.CompletionPercentage,
		Status:               sub.Status,
		Version:              sub.Version,
		IsComplete:           isComplete,
		Score:                score,
	}, nil
}

// Load returns the student's stored lab work, or Found=false when the lab
// was never saved.
func (s *LabService) Load(ctx context.Context, studentKey, courseID, labID string) (*model.LoadLabResult, error) {
	sub, err := s.store.Get(ctx, studentKey, courseID, labID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.LoadLabResult{Found: false}, nil
		}
		return nil, fmt.Errorf("load submission: %w", err)
	}

	return &model.LoadLabResult{
		Found:                true,
		LabData:              sub.LabData,
		SectionStatus:        sub.SectionStatus,
		CompletionPercentage: &sub.CompletionPercentage,
		Status:               &sub.Status,
		Version:              &sub.Version,
	}, nil
}

// scoreFor converts completion into points. With partial credit the score
// always scales linearly with completion, even past the threshold; without
// it, full credit lands at or above the threshold and nothing below.
func (s *LabService) scoreFor(sub *model.LabSubmission, isComplete bool) float64 {
	if sub.PointsValue <= 0 {
		return 0
	}
	if sub.AllowPartialCredit {
		return math.Round(float64(sub.CompletionPercentage) / 100 * sub.PointsValue)
	}
	if isComplete {
		return sub.PointsValue
	}
	return 0
}

// completionPercentage derives completion from the strongest signal the
// client sent: explicit section states win, then required-section content,
// then a coarse count of populated fields.
func completionPercentage(req *model.SaveLabRequest) int {
	if len(req.SectionStatus) > 0 {
		completed := 0
		for _, state := range req.SectionStatus {
			if state == model.SectionCompleted {
				completed++
			}
		}
		return int(math.Round(float64(completed) / float64(len(req.SectionStatus)) * 100))
	}

	if len(req.RequiredSections) > 0 {
		filled := 0
		for _, section := range req.RequiredSections {
			if sectionHasContent(req.LabData, section) {
				filled++
			}
		}
		return int(math.Round(float64(filled) / float64(len(req.RequiredSections)) * 100))
	}

	// Coarse fallback: count keys that actually carry content, with a floor
	// of 5 so a near-empty payload cannot look finished.
	filled := 0
	for key := range req.LabData {
		if sectionHasContent(req.LabData, key) {
			filled++
		}
	}
	denom := filled
	if denom < 5 {
		denom = 5
	}
	return int(math.Round(float64(filled) / float64(denom) * 100))
}

func missingRequiredSections(req *model.SaveLabRequest) []string {
	var missing []string
	for _, section := range req.RequiredSections {
		if state, ok := req.SectionStatus[section]; ok {
			if state != model.SectionCompleted {
				missing = append(missing, section)
			}
			continue
		}
		if !sectionHasContent(req.LabData, section) {
			missing = append(missing, section)
		}
	}
	return missing
}

func sectionHasContent(data map[string]json.RawMessage, section string) bool {
	raw, ok := data[section]
	if !ok {
		return false
	}
	return !emptyAnswer(strings.TrimSpace(string(raw)))
}
