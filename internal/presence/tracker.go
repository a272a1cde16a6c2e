// Package presence tracks which users are editing which room.
//
// Entries are keyed by (session id, user id): one user with two sessions
// shows up twice. An entry expires when its last activity is older than the
// tracker's TTL.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long an entry survives without a heartbeat.
const DefaultTTL = 5 * time.Minute

// Entry is one editor in a room.
type Entry struct {
	RoomID       string    `json:"room_id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	LastActivity time.Time `json:"last_activity"`
}

type key struct {
	sessionID string
	userID    string
}

type Tracker struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	rooms    map[string]map[key]*Entry
	sessions map[string]map[string]struct{}
}

type Option func(*Tracker)

func WithTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		ttl:      DefaultTTL,
		now:      time.Now,
		rooms:    make(map[string]map[key]*Entry),
		sessions: make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartEditing records the session as an editor of roomID and returns the
// room's roster.
func (t *Tracker) StartEditing(roomID, sessionID, userID, userName string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	editors, ok := t.rooms[roomID]
	if !ok {
		editors = make(map[key]*Entry)
		t.rooms[roomID] = editors
	}
	editors[key{sessionID, userID}] = &Entry{
		RoomID:       roomID,
		SessionID:    sessionID,
		UserID:       userID,
		UserName:     userName,
		LastActivity: t.now(),
	}

	touched, ok := t.sessions[sessionID]
	if !ok {
		touched = make(map[string]struct{})
		t.sessions[sessionID] = touched
	}
	touched[roomID] = struct{}{}

	return t.rosterLocked(roomID)
}

// StopEditing removes every entry of the session in roomID and returns the
// remaining roster.
func (t *Tracker) StopEditing(roomID, sessionID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(roomID, sessionID)
	if touched, ok := t.sessions[sessionID]; ok {
		delete(touched, roomID)
		if len(touched) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	return t.rosterLocked(roomID)
}

// Heartbeat refreshes the session's entries for userID in every room it
// touched. It reports whether any entry was refreshed.
func (t *Tracker) Heartbeat(sessionID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	refreshed := false
	for roomID := range t.sessions[sessionID] {
		if e, ok := t.rooms[roomID][key{sessionID, userID}]; ok {
			e.LastActivity = now
			refreshed = true
		}
	}
	return refreshed
}

// RemoveSession forgets the session in every room it touched.
func (t *Tracker) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for roomID := range t.sessions[sessionID] {
		t.dropLocked(roomID, sessionID)
	}
	delete(t.sessions, sessionID)
}

// CleanupInactive removes entries idle for longer than the TTL and returns
// how many were removed.
func (t *Tracker) CleanupInactive() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	removed := 0
	for roomID, editors := range t.rooms {
		for k, e := range editors {
			if !e.LastActivity.Before(cutoff) {
				continue
			}
			delete(editors, k)
			removed++
			if touched, ok := t.sessions[k.sessionID]; ok && !t.hasSessionLocked(roomID, k.sessionID) {
				delete(touched, roomID)
				if len(touched) == 0 {
					delete(t.sessions, k.sessionID)
				}
			}
		}
		if len(editors) == 0 {
			delete(t.rooms, roomID)
		}
	}
	return removed
}

// Roster returns the live editors of roomID ordered by session and user.
// Expired entries are left out even before the next sweep.
func (t *Tracker) Roster(roomID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked(roomID)
}

// Count returns the number of entries across all rooms.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, editors := range t.rooms {
		n += len(editors)
	}
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := t.CleanupInactive(); n > 0 {
				slog.Info("expired presence entries", "removed", n)
			}
		}
	}
}

func (t *Tracker) rosterLocked(roomID string) []Entry {
	cutoff := t.now().Add(-t.ttl)
	roster := make([]Entry, 0, len(t.rooms[roomID]))
	for _, e := range t.rooms[roomID] {
		if e.LastActivity.Before(cutoff) {
			continue
		}
		roster = append(roster, *e)
	}
	sort.Slice(roster, func(i, j int) bool {
		if roster[i].SessionID != roster[j].SessionID {
			return roster[i].SessionID < roster[j].SessionID
		}
		return roster[i].UserID < roster[j].UserID
	})
	return roster
}

func (t *Tracker) dropLocked(roomID, sessionID string) {
	editors, ok := t.rooms[roomID]
	if !ok {
		return
	}
	for k := range editors {
		if k.sessionID == sessionID {
			delete(editors, k)
		}
	}
	if len(editors) == 0 {
		delete(t.rooms, roomID)
	}
}

func (t *Tracker) hasSessionLocked(roomID, sessionID string) bool {
	for k := range t.rooms[roomID] {
		if k.sessionID == sessionID {
			return true
		}
	}
	return false
}
