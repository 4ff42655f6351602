package model

import (
	"encoding/json"
	"time"
)

// SectionState enumerates per-section progress inside a lab.
type SectionState string

const (
	SectionNotStarted SectionState = "not-started"
	SectionInProgress SectionState = "in-progress"
	SectionCompleted  SectionState = "completed"
)

// LabStatus enumerates the overall state of a lab submission.
type LabStatus string

const (
	LabStatusInProgress LabStatus = "in-progress"
	LabStatusCompleted  LabStatus = "completed"
)

// SaveType distinguishes explicit saves from background auto-saves.
type SaveType string

const (
	SaveTypeManual SaveType = "manual"
	SaveTypeAuto   SaveType = "auto"
)

// LabSubmission is one student's work on one lab.
type LabSubmission struct {
	LabID                string                     `json:"lab_id"`
	StudentKey           string                     `json:"student_key"`
	CourseID             string                     `json:"course_id"`
	SectionStatus        map[string]SectionState    `json:"section_status,omitempty"`
	LabData              map[string]json.RawMessage `json:"lab_data"`
	CompletionPercentage int                        `json:"completion_percentage"`
	Status               LabStatus                  `json:"status"`
	Submitted            bool                       `json:"submitted"`
	PointsValue          float64                    `json:"points_value"`
	AllowPartialCredit   bool                       `json:"allow_partial_credit"`
	Version              int                        `json:"version"`
	Timestamp            time.Time                  `json:"timestamp"`
	LastModified         time.Time                  `json:"last_modified"`
}

// SaveLabRequest is the payload for persisting lab work.
type SaveLabRequest struct {
	LabData            map[string]json.RawMessage `json:"lab_data" binding:"required"`
	SectionStatus      map[string]SectionState    `json:"section_status" binding:"omitempty,dive,oneof=not-started in-progress completed"`
	SaveType           SaveType                   `json:"save_type" binding:"required,oneof=manual auto"`
	RequiredSections   []string                   `json:"required_sections" binding:"omitempty"`
	PointsValue        *float64                   `json:"points_value" binding:"omitempty,min=0"`
	AllowPartialCredit *bool                      `json:"allow_partial_credit" binding:"omitempty"`
	Submit             bool                       `json:"submit"`
}

// SaveLabResult is returned from a lab save.
type SaveLabResult struct {
	CompletionPercentage int       `json:"completion_percentage"`
	Status               LabStatus `json:"status"`
	Version              int       `json:"version"`
	IsComplete           bool      `json:"is_complete"`
	Score                float64   `json:"score"`
}

// LoadLabResult is returned from a lab load.
type LoadLabResult struct {
	Found                bool                       `json:"found"`
	LabData              map[string]json.RawMessage `json:"lab_data,omitempty"`
	SectionStatus        map[string]SectionState    `json:"section_status,omitempty"`
	CompletionPercentage *int                       `json:"completion_percentage,omitempty"`
	Status               *LabStatus                 `json:"status,omitempty"`
	Version              *int                       `json:"version,omitempty"`
}
