// Package match implements the two pairing strategies of the relay: a strict
// FIFO waiting queue for video matchmaking, and an instant-chat scan over the
// pool of live connections.
package match

import (
	"sync"
	"time"

	"github.com/pairline/relay/internal/registry"
)

// Entry represents one user waiting in the matchmaking queue.
type Entry struct {
	UserID      string
	Transport   registry.Transport
	DisplayName string
	Preferences []string
	JoinedAt    time.Time
}

// Pair is a successful pairing of the two longest-waiting entries. A is
// always the earlier-joined side.
type Pair struct {
	A Entry
	B Entry
}

// Queue is a goroutine-safe, strictly FIFO waiting pool. Enqueueing is
// idempotent per user: a fresh request evicts any previous entry for the
// same userID before appending, so a user can never occupy two slots.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends an entry to the tail, first evicting any existing entry
// with the same userID. If JoinedAt is zero it is stamped with the current
// time.
func (q *Queue) Enqueue(e Entry) {
	if e.JoinedAt.IsZero() {
		e.JoinedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(e.UserID)
	q.entries = append(q.entries, e)
}

// Leave removes a pending entry. It reports whether an entry was removed;
// leaving when not queued is a no-op.
func (q *Queue) Leave(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(userID)
}

// TryMatch pops the two entries at the head of the queue (oldest join
// timestamps) and returns them as a Pair. It returns nil when fewer than two
// users are waiting.
func (q *Queue) TryMatch() *Pair {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) < 2 {
		return nil
	}

	pair := &Pair{A: q.entries[0], B: q.entries[1]}
	q.entries = q.entries[2:]
	return pair
}

// Contains reports whether the user currently has a pending entry.
func (q *Queue) Contains(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	n := len(q.entries)
	q.mu.Unlock()
	return n
}

// removeLocked deletes the entry for userID, preserving order. Caller holds
// the lock. Reports whether an entry was found.
func (q *Queue) removeLocked(userID string) bool {
	for i, e := range q.entries {
		if e.UserID == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}
