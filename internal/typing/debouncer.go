// Package typing debounces keystroke activity into typing-started /
// typing-stopped transitions, one independent inactivity timer per
// conversation. Sessions are ephemeral and rebuilt purely from live events.
package typing

import (
	"sync"
	"time"
)

// DefaultWindow is the inactivity window after the last keystroke before a
// typing session expires.
const DefaultWindow = 5 * time.Second

// EmitFunc receives typing transitions: started=true exactly once when a
// session begins, started=false when it expires.
type EmitFunc func(conversationID, typistID, recipientID string, started bool)

type session struct {
	typistID    string
	recipientID string
	expiry      time.Time
	timer       *time.Timer
}

// Debouncer holds one session per conversation. Each session owns its own
// scheduled callback: refreshing or expiring one conversation never touches
// another conversation's timer.
type Debouncer struct {
	mu       sync.Mutex
	window   time.Duration
	emit     EmitFunc
	sessions map[string]*session
	now      func() time.Time
}

func NewDebouncer(window time.Duration, emit EmitFunc) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window:   window,
		emit:     emit,
		sessions: make(map[string]*session),
		now:      time.Now,
	}
}

// Notify records a keystroke by typistID in the conversation. The first
// keystroke creates the session and emits typing-started to the recipient;
// subsequent keystrokes only extend the expiry.
func (d *Debouncer) Notify(conversationID, typistID, recipientID string) {
	d.mu.Lock()
	s, ok := d.sessions[conversationID]
	if ok {
		s.expiry = d.now().Add(d.window)
		d.mu.Unlock()
		return
	}
	s = &session{
		typistID:    typistID,
		recipientID: recipientID,
		expiry:      d.now().Add(d.window),
	}
	s.timer = time.AfterFunc(d.window, func() { d.expire(conversationID) })
	d.sessions[conversationID] = s
	d.mu.Unlock()

	d.emit(conversationID, typistID, recipientID, true)
}

// expire fires when a session's timer elapses. A refresh may have moved the
// expiry since the timer was armed; in that case the session survives and the
// timer is re-armed for the remainder.
func (d *Debouncer) expire(conversationID string) {
	d.mu.Lock()
	s, ok := d.sessions[conversationID]
	if !ok {
		d.mu.Unlock()
		return
	}
	if remaining := s.expiry.Sub(d.now()); remaining > 0 {
		s.timer.Reset(remaining)
		d.mu.Unlock()
		return
	}
	delete(d.sessions, conversationID)
	d.mu.Unlock()

	d.emit(conversationID, s.typistID, s.recipientID, false)
}

// Typing reports whether a non-expired session exists for the conversation.
func (d *Debouncer) Typing(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[conversationID]
	return ok && s.expiry.After(d.now())
}

// Stop cancels all sessions without emitting transitions (shutdown path).
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, s := range d.sessions {
		s.timer.Stop()
		delete(d.sessions, id)
	}
}
