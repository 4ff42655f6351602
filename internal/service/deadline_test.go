package service

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestScheduler(now func() time.Time) *DeadlineScheduler {
	return NewDeadlineScheduler(time.Millisecond, now, zerolog.Nop())
}

func TestDeadlineSchedulerFiresExactlyOnce(t *testing.T) {
	var fired int32
	done := make(chan struct{})

	sched := newTestScheduler(time.Now)
	sched.SetAutoSubmit(func(uuid.UUID) {
		if atomic.AddInt32(&fired, 1) == 1 {
			close(done)
		}
	})

	id := uuid.New()
	sched.Watch(id, time.Now(), 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("auto-submit never fired")
	}

	// Leave room for spurious extra ticks after the zero crossing.
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("auto-submit fired %d times, want 1", n)
	}
}

func TestDeadlineSchedulerPastDeadlineFiresImmediately(t *testing.T) {
	done := make(chan struct{})

	sched := newTestScheduler(time.Now)
	sched.SetAutoSubmit(func(uuid.UUID) { close(done) })

	// A rehydrated session whose deadline passed while the server was down.
	sched.Watch(uuid.New(), time.Now().Add(-time.Hour), time.Minute)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expired session was not auto-submitted on watch")
	}
}

func TestDeadlineSchedulerCancelStopsCountdown(t *testing.T) {
	var fired int32

	sched := newTestScheduler(time.Now)
	sched.SetAutoSubmit(func(uuid.UUID) { atomic.AddInt32(&fired, 1) })

	id := uuid.New()
	sched.Watch(id, time.Now(), 50*time.Millisecond)
	sched.Cancel(id)

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("cancelled watch still fired %d times", n)
	}
	if _, ok := sched.Remaining(id); ok {
		t.Fatal("cancelled watch still registered")
	}
}

func TestDeadlineSchedulerDoubleWatchIsNoop(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	done := make(chan struct{})

	sched := newTestScheduler(time.Now)
	sched.SetAutoSubmit(func(uuid.UUID) {
		mu.Lock()
		fired++
		if fired == 1 {
			close(done)
		}
		mu.Unlock()
	})

	id := uuid.New()
	start := time.Now()
	sched.Watch(id, start, 10*time.Millisecond)
	sched.Watch(id, start, 10*time.Millisecond) // resume must not double-arm

	<-done
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Fatalf("auto-submit fired %d times, want 1", fired)
	}
}

func TestDeadlineSchedulerRemainingClampsAtZero(t *testing.T) {
	base := time.Now()
	now := base
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	// Large tick so the watch never fires during the test.
	sched := NewDeadlineScheduler(time.Hour, clock, zerolog.Nop())
	sched.SetAutoSubmit(func(uuid.UUID) {})

	id := uuid.New()
	sched.Watch(id, base, time.Minute)

	remaining, ok := sched.Remaining(id)
	if !ok || remaining != time.Minute {
		t.Fatalf("remaining = %v, %v; want 1m, true", remaining, ok)
	}

	mu.Lock()
	now = base.Add(2 * time.Minute)
	mu.Unlock()

	remaining, ok = sched.Remaining(id)
	if !ok || remaining != 0 {
		t.Fatalf("remaining after deadline = %v, %v; want 0, true", remaining, ok)
	}
}
