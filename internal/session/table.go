// Package session maintains the table of active paired sessions. The table
// and its per-participant index live in process memory and are scoped to the
// relay's lifetime; durable history is someone else's job.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two session variants sharing one shape.
type Kind string

const (
	KindVideo       Kind = "video"
	KindInstantChat Kind = "instant_chat"
)

// ErrAlreadyInSession is returned by Create when a participant already has an
// active session of the requested kind.
var ErrAlreadyInSession = errors.New("session: participant already in an active session of this kind")

// Session is one active 1:1 pairing.
type Session struct {
	ID           string
	UserA        string
	UserB        string
	Kind         Kind
	StartedAt    time.Time
	EndedAt      time.Time // zero while active
	TimerSeconds int       // optional countdown for timed video sessions
}

// Partner returns the other participant's userID, or "" if the given user is
// not a participant.
func (s *Session) Partner(userID string) string {
	if userID == s.UserA {
		return s.UserB
	}
	if userID == s.UserB {
		return s.UserA
	}
	return ""
}

// IsParticipant reports whether userID is one of the session's two ends.
func (s *Session) IsParticipant(userID string) bool {
	return userID == s.UserA || userID == s.UserB
}

// Table holds active sessions with a secondary userID index so participant
// lookups stay O(1) instead of scanning the whole table. Both maps are
// mutated together under one lock on create and end.
type Table struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]map[Kind]string // userID -> kind -> sessionID
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{
		byID:   make(map[string]*Session),
		byUser: make(map[string]map[Kind]string),
	}
}

// Create atomically registers a new session for the pair with a fresh UUID.
// It fails with ErrAlreadyInSession when either participant is already in an
// active session of the same kind; callers that want the redirect behavior
// use FindByKind first.
func (t *Table) Create(userA, userB string, kind Kind, timerSeconds int) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byUser[userA][kind]; ok {
		return nil, ErrAlreadyInSession
	}
	if _, ok := t.byUser[userB][kind]; ok {
		return nil, ErrAlreadyInSession
	}

	s := &Session{
		ID:           uuid.New().String(),
		UserA:        userA,
		UserB:        userB,
		Kind:         kind,
		StartedAt:    time.Now(),
		TimerSeconds: timerSeconds,
	}

	t.byID[s.ID] = s
	t.indexLocked(userA, kind, s.ID)
	t.indexLocked(userB, kind, s.ID)
	return s, nil
}

// Get returns the active session with the given ID, or nil.
func (t *Table) Get(sessionID string) *Session {
	t.mu.RLock()
	s := t.byID[sessionID]
	t.mu.RUnlock()
	return s
}

// Find returns an active session the user participates in, or nil. When the
// user is in both a video and an instant-chat session the video one wins, so
// the result is deterministic.
func (t *Table) Find(userID string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	kinds := t.byUser[userID]
	if id, ok := kinds[KindVideo]; ok {
		return t.byID[id]
	}
	if id, ok := kinds[KindInstantChat]; ok {
		return t.byID[id]
	}
	return nil
}

// FindByKind returns the user's active session of the given kind, or nil.
func (t *Table) FindByKind(userID string, kind Kind) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if id, ok := t.byUser[userID][kind]; ok {
		return t.byID[id]
	}
	return nil
}

// FindByParticipants returns the active session whose two ends are exactly
// the given users, in either order. Used by legacy clients that track the
// partner ID but not the session ID.
func (t *Table) FindByParticipants(userA, userB string) *Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, kind := range []Kind{KindVideo, KindInstantChat} {
		if id, ok := t.byUser[userA][kind]; ok {
			s := t.byID[id]
			if s != nil && s.IsParticipant(userB) {
				return s
			}
		}
	}
	return nil
}

// End removes the session from the table and both index entries, stamping
// EndedAt. It returns the removed session so the caller can notify the
// participants and schedule transcript eviction, or nil if the ID is unknown.
func (t *Table) End(sessionID string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.byID[sessionID]
	if !ok {
		return nil
	}

	delete(t.byID, sessionID)
	t.unindexLocked(s.UserA, s.Kind)
	t.unindexLocked(s.UserB, s.Kind)
	s.EndedAt = time.Now()
	return s
}

// SessionsOf returns every active session the user participates in. A user
// holds at most one session per kind.
func (t *Table) SessionsOf(userID string) []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*Session
	for _, kind := range []Kind{KindVideo, KindInstantChat} {
		if id, ok := t.byUser[userID][kind]; ok {
			if s := t.byID[id]; s != nil {
				out = append(out, s)
			}
		}
	}
	return out
}

// Len returns the number of active sessions.
func (t *Table) Len() int {
	t.mu.RLock()
	n := len(t.byID)
	t.mu.RUnlock()
	return n
}

func (t *Table) indexLocked(userID string, kind Kind, sessionID string) {
	if t.byUser[userID] == nil {
		t.byUser[userID] = make(map[Kind]string)
	}
	t.byUser[userID][kind] = sessionID
}

func (t *Table) unindexLocked(userID string, kind Kind) {
	kinds := t.byUser[userID]
	delete(kinds, kind)
	if len(kinds) == 0 {
		delete(t.byUser, userID)
	}
}
