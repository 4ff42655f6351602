package service

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestAnswerTrackerChangeDoesNotPersist(t *testing.T) {
	tracker := NewAnswerTracker(map[string]string{"q1": "A"})

	tracker.Change("q1", "B")

	saved, _ := tracker.Saved("q1")
	if saved != "A" {
		t.Fatalf("saved view changed on Change: got %q, want %q", saved, "A")
	}
	pending, _ := tracker.Pending("q1")
	if pending != "B" {
		t.Fatalf("pending view not updated: got %q, want %q", pending, "B")
	}
	if got := tracker.UnsavedChanges(); !reflect.DeepEqual(got, []string{"q1"}) {
		t.Fatalf("unsaved changes = %v, want [q1]", got)
	}
}

func TestAnswerTrackerMarkSavedClearsUnsaved(t *testing.T) {
	tracker := NewAnswerTracker(nil)

	tracker.Change("q1", "B")
	tracker.Change("q2", "C")
	tracker.MarkSaved("q1", "B")

	if got := tracker.UnsavedChanges(); !reflect.DeepEqual(got, []string{"q2"}) {
		t.Fatalf("unsaved changes = %v, want [q2]", got)
	}

	// Saving again with the same value must not re-dirty anything.
	tracker.MarkSaved("q1", "B")
	if got := tracker.UnsavedChanges(); !reflect.DeepEqual(got, []string{"q2"}) {
		t.Fatalf("unsaved changes after repeat save = %v, want [q2]", got)
	}
}

func TestAnswerTrackerEmptyValuesNeverDirty(t *testing.T) {
	tracker := NewAnswerTracker(nil)

	for _, raw := range []string{"", "  ", `""`, `"   "`, `" \t "`, "null"} {
		tracker.Change("q1", raw)
		if got := tracker.UnsavedChanges(); len(got) != 0 {
			t.Fatalf("empty value %q marked dirty: %v", raw, got)
		}
	}
}

func TestAnswerTrackerUnsavedChangesSorted(t *testing.T) {
	tracker := NewAnswerTracker(nil)
	tracker.Change("q9", "x")
	tracker.Change("q1", "y")
	tracker.Change("q5", "z")

	want := []string{"q1", "q5", "q9"}
	if got := tracker.UnsavedChanges(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unsaved changes = %v, want %v", got, want)
	}
}

func TestAnswerTrackerResumeSeedsBothViews(t *testing.T) {
	tracker := NewAnswerTracker(map[string]string{"q1": "A", "q2": "B"})

	if got := tracker.UnsavedChanges(); len(got) != 0 {
		t.Fatalf("resumed tracker starts dirty: %v", got)
	}
	snapshot := tracker.SavedSnapshot()
	if !reflect.DeepEqual(snapshot, map[string]string{"q1": "A", "q2": "B"}) {
		t.Fatalf("saved snapshot = %v", snapshot)
	}
}

func TestTrackerRegistrySeedsOnce(t *testing.T) {
	reg := NewTrackerRegistry()
	id := uuid.New()
	seeds := 0

	first := reg.GetOrCreate(id, func() map[string]string {
		seeds++
		return map[string]string{"q1": "A"}
	})
	second := reg.GetOrCreate(id, func() map[string]string {
		seeds++
		return nil
	})

	if first != second {
		t.Fatal("registry returned two trackers for one session")
	}
	if seeds != 1 {
		t.Fatalf("seed called %d times, want 1", seeds)
	}

	reg.Drop(id)
	if _, ok := reg.Lookup(id); ok {
		t.Fatal("tracker survived Drop")
	}
}
