// Package presence tracks which users hold at least one live connection.
// The registry is process-local state owned by a single Tracker instance and
// injected wherever presence is needed; nothing here is persisted.
package presence

import "sync"

// Tracker maps users to their set of live connection handles. Connect and
// Disconnect report the online/offline transition so the caller can broadcast
// it: a user goes online only when the first connection arrives and offline
// only when the last one closes. Mutations for one user are serialized;
// different users never contend beyond the map lock.
type Tracker struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{conns: make(map[string]map[string]struct{})}
}

// Connect registers a connection handle for the user and reports whether
// this transitioned the user from offline to online.
func (t *Tracker) Connect(userID, connID string) (wentOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	wentOnline = len(set) == 0
	set[connID] = struct{}{}
	return wentOnline
}

// Disconnect removes a connection handle and reports whether this
// transitioned the user from online to offline. Unknown handles are ignored,
// so a double disconnect cannot fire a second offline transition.
func (t *Tracker) Disconnect(userID, connID string) (wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(t.conns, userID)
		return true
	}
	return false
}

// Online reports whether the user has at least one live connection.
func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns[userID]) > 0
}
