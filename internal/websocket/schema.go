package websocket

import "encoding/json"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionChange Action = "change"
	ActionSave   Action = "save"
	ActionState  Action = "state"
	ActionPing   Action = "ping"
)

// RequestPayload is the single client message shape on the session channel.
// change tracks an in-flight edit, save persists it, state asks for a resume
// snapshot.
type RequestPayload struct {
	Action     Action          `json:"action"`
	QuestionID string          `json:"question_id,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventTracked Event = "tracked"
	EventSaved   Event = "saved"
	EventState   Event = "state"
	EventPong    Event = "pong"
)

// TrackedResponse acknowledges a change: the edit is held in memory only.
type TrackedResponse struct {
	Event          Event    `json:"event"`
	QuestionID     string   `json:"question_id"`
	UnsavedChanges []string `json:"unsaved_changes"`
}

// SavedResponse acknowledges a durable save.
type SavedResponse struct {
	Event          Event    `json:"event"`
	QuestionID     string   `json:"question_id"`
	UnsavedChanges []string `json:"unsaved_changes"`
}

// StateResponse is the resume snapshot for a reconnecting client.
type StateResponse struct {
	Event            Event             `json:"event"`
	Status           string            `json:"status"`
	SavedAnswers     map[string]string `json:"saved_answers"`
	UnsavedChanges   []string          `json:"unsaved_changes"`
	RemainingSeconds *float64          `json:"remaining_seconds,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
