// Package registry tracks which users are currently reachable. It maps a
// logical user ID to its live transport handle and is the single source of
// truth for "is this user connected right now".
package registry

import "sync"

// Transport is an abstract handle to one client's live bidirectional
// connection. *ws.Connection satisfies it in production; tests substitute
// in-memory fakes.
type Transport interface {
	WriteMessage(data []byte) error
}

// Registry is a goroutine-safe map of userID -> Transport. Registration is
// last-writer-wins: a reconnect replaces the previous handle, which is from
// then on treated as stale. Iteration order follows registration order so
// that scans over live users are deterministic.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Transport
	order   []string // userIDs in registration order
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]Transport),
	}
}

// Register records the transport for a user, replacing any existing entry.
// A replaced user moves to the back of the iteration order, as if freshly
// connected. It never errors on duplicates.
func (r *Registry) Register(userID string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[userID]; ok {
		r.removeFromOrder(userID)
	}
	r.entries[userID] = t
	r.order = append(r.order, userID)
}

// Lookup returns the live transport for a user, or nil if the user is not
// connected.
func (r *Registry) Lookup(userID string) Transport {
	r.mu.RLock()
	t := r.entries[userID]
	r.mu.RUnlock()
	return t
}

// Connected reports whether the user currently has a live transport.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	_, ok := r.entries[userID]
	r.mu.RUnlock()
	return ok
}

// Unregister removes the entry for a user. Removing an absent key is a no-op.
// Callers are responsible for notifying any sessions that depended on the
// connection.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[userID]; !ok {
		return
	}
	delete(r.entries, userID)
	r.removeFromOrder(userID)
}

// Count returns the number of connected users.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	return n
}

// Each calls fn for every connected user in registration order (oldest
// registration first) until fn returns false. The snapshot is taken under
// the read lock; fn runs without it, so fn may call back into the registry.
func (r *Registry) Each(fn func(userID string, t Transport) bool) {
	r.mu.RLock()
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	r.mu.RUnlock()

	for _, id := range ids {
		// Re-check liveness per entry; fn for an earlier entry may have
		// caused an unregister.
		t := r.Lookup(id)
		if t == nil {
			continue
		}
		if !fn(id, t) {
			return
		}
	}
}

// removeFromOrder deletes userID from the order slice. Caller holds the lock.
func (r *Registry) removeFromOrder(userID string) {
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
