package typing

import (
	"sync"
	"testing"
	"time"
)

type emitRecord struct {
	conversationID string
	typistID       string
	recipientID    string
	started        bool
}

type recorder struct {
	mu     sync.Mutex
	events []emitRecord
}

func (r *recorder) emit(conversationID, typistID, recipientID string, started bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitRecord{conversationID, typistID, recipientID, started})
}

func (r *recorder) all() []emitRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitRecord(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) []emitRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if events := r.all(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, len(r.all()))
	return nil
}

func TestStartedEmittedOncePerSession(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(50*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Notify("c1", "alice", "bob")
	d.Notify("c1", "alice", "bob")
	d.Notify("c1", "alice", "bob")

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (started only once)", len(events))
	}
	if !events[0].started || events[0].conversationID != "c1" || events[0].recipientID != "bob" {
		t.Errorf("unexpected event %+v", events[0])
	}
	if !d.Typing("c1") {
		t.Error("session should be live")
	}
}

func TestStoppedEmittedAfterWindow(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(30*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Notify("c1", "alice", "bob")
	events := rec.waitFor(t, 2, 2*time.Second)

	if !events[0].started || events[1].started {
		t.Errorf("want started then stopped, got %+v", events)
	}
	if d.Typing("c1") {
		t.Error("session should have expired")
	}
}

func TestRefreshExtendsSession(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(60*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Notify("c1", "alice", "bob")
	// Keep refreshing past the original window.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		d.Notify("c1", "alice", "bob")
	}
	if events := rec.all(); len(events) != 1 {
		t.Fatalf("refreshes re-emitted transitions: %+v", events)
	}
	if !d.Typing("c1") {
		t.Error("refreshed session should still be live")
	}

	events := rec.waitFor(t, 2, 2*time.Second)
	if events[1].started {
		t.Errorf("final event should be stopped, got %+v", events[1])
	}
}

func TestConversationsAreIndependent(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(40*time.Millisecond, rec.emit)
	defer d.Stop()

	d.Notify("c1", "alice", "bob")
	time.Sleep(25 * time.Millisecond)
	// Refreshing c2 must not keep c1 alive.
	d.Notify("c2", "carol", "dave")

	events := rec.waitFor(t, 4, 2*time.Second)

	byConvo := map[string][]emitRecord{}
	for _, e := range events {
		byConvo[e.conversationID] = append(byConvo[e.conversationID], e)
	}
	for _, id := range []string{"c1", "c2"} {
		seq := byConvo[id]
		if len(seq) != 2 || !seq[0].started || seq[1].started {
			t.Errorf("conversation %s: want started,stopped got %+v", id, seq)
		}
	}
}

func TestStopCancelsWithoutEmitting(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(30*time.Millisecond, rec.emit)

	d.Notify("c1", "alice", "bob")
	d.Stop()

	time.Sleep(60 * time.Millisecond)
	events := rec.all()
	if len(events) != 1 {
		t.Errorf("Stop should suppress the stopped transition, got %+v", events)
	}
	if d.Typing("c1") {
		t.Error("no session should survive Stop")
	}
}
