package runtime

import (
	"chat-relay/contract"
	"sync"
)

type Set map[string]struct{}

// Registry is the connection registry: one active connection per user.
// It is process-local and starts empty, so every user is unreachable after a
// restart until they join again.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]contract.Connection // map user -> connection
	owners   map[string]Set                 // map connection handle -> users
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]contract.Connection),
		owners:   make(map[string]Set),
	}
}

// Register records conn as the connection of userID, replacing any previous one.
func (r *Registry) Register(userID string, conn contract.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if previous, ok := r.sessions[userID]; ok {
		r.dropOwner(previous.Handle(), userID)
	}
	r.sessions[userID] = conn

	handle := conn.Handle()
	if _, ok := r.owners[handle]; !ok {
		r.owners[handle] = make(Set)
	}
	r.owners[handle][userID] = struct{}{}
}

// Unregister removes every entry pointing at handle and returns the affected users.
// A newer connection registered for the same user is left untouched.
func (r *Registry) Unregister(handle string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, ok := r.owners[handle]
	if !ok {
		return nil
	}
	removed := make([]string, 0, len(users))
	for userID := range users {
		if conn, exists := r.sessions[userID]; exists && conn.Handle() == handle {
			delete(r.sessions, userID)
			removed = append(removed, userID)
		}
	}
	delete(r.owners, handle)
	return removed
}

// Lookup returns the connection of userID; absence means "not reachable".
func (r *Registry) Lookup(userID string) (contract.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.sessions[userID]
	return conn, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) dropOwner(handle, userID string) {
	if users, ok := r.owners[handle]; ok {
		delete(users, userID)
		// No empty sets left behind
		if len(users) == 0 {
			delete(r.owners, handle)
		}
	}
}
