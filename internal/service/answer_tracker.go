package service

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// AnswerTracker holds the three views over one active session's answers:
// saved (last persisted), pending (current in-editor value), and the derived
// unsaved-changes set. Changing an answer never touches persisted state;
// only Save moves a pending value into the saved view.
type AnswerTracker struct {
	mu      sync.RWMutex
	saved   map[string]string
	pending map[string]string
}

// NewAnswerTracker creates a tracker seeded from persisted responses.
// Resumed sessions load responses as both saved and pending.
func NewAnswerTracker(saved map[string]string) *AnswerTracker {
	t := &AnswerTracker{
		saved:   make(map[string]string, len(saved)),
		pending: make(map[string]string, len(saved)),
	}
	for q, a := range saved {
		t.saved[q] = a
		t.pending[q] = a
	}
	return t
}

// Change records a new in-editor value for a question without persisting it.
func (t *AnswerTracker) Change(questionID, answer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[questionID] = answer
}

// MarkSaved records that a question's answer was persisted. Both views now
// agree, so the question leaves the unsaved-changes set. Idempotent.
func (t *AnswerTracker) MarkSaved(questionID, answer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saved[questionID] = answer
	t.pending[questionID] = answer
}

// Pending returns the current in-editor value for a question.
func (t *AnswerTracker) Pending(questionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.pending[questionID]
	return v, ok
}

// Saved returns the last persisted value for a question.
func (t *AnswerTracker) Saved(questionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.saved[questionID]
	return v, ok
}

// SavedSnapshot returns a copy of the saved view.
func (t *AnswerTracker) SavedSnapshot() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.saved))
	for q, a := range t.saved {
		out[q] = a
	}
	return out
}

// UnsavedChanges returns the sorted set of questions whose pending value is
// non-empty and differs from the saved value.
func (t *AnswerTracker) UnsavedChanges() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var changed []string
	for q, p := range t.pending {
		if emptyAnswer(p) {
			continue
		}
		if t.saved[q] != p {
			changed = append(changed, q)
		}
	}
	sort.Strings(changed)
	return changed
}

// emptyAnswer reports whether a raw answer value carries no content.
// Answers travel as JSON text, so "", `null`, and strings that are empty
// after trimming their decoded value all count as empty.
func emptyAnswer(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return true
	}
	if strings.HasPrefix(trimmed, `"`) {
		var value string
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			return strings.TrimSpace(value) == ""
		}
	}
	return false
}

// TrackerRegistry maps active sessions to their in-memory answer trackers.
type TrackerRegistry struct {
	mu       sync.Mutex
	trackers map[uuid.UUID]*AnswerTracker
}

// NewTrackerRegistry creates an empty registry.
func NewTrackerRegistry() *TrackerRegistry {
	return &TrackerRegistry{trackers: make(map[uuid.UUID]*AnswerTracker)}
}

// GetOrCreate returns the tracker for a session, seeding a new one from
// persisted responses when the session has no tracker yet.
func (r *TrackerRegistry) GetOrCreate(sessionID uuid.UUID, seed func() map[string]string) *AnswerTracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[sessionID]; ok {
		return t
	}
	t := NewAnswerTracker(seed())
	r.trackers[sessionID] = t
	return t
}

// Lookup returns the tracker for a session if one exists.
func (r *TrackerRegistry) Lookup(sessionID uuid.UUID) (*AnswerTracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[sessionID]
	return t, ok
}

// Drop removes a session's tracker. Called when the session leaves
// in_progress.
func (r *TrackerRegistry) Drop(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trackers, sessionID)
}
