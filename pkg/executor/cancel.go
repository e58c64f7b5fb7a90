package executor

import (
	"sync"
)

// CancelRegistry is the process-wide cancellation flag set, keyed by
// (user, session). Turns poll it at every suspension point; the HTTP cancel
// endpoint sets it.
type CancelRegistry struct {
	mu    sync.Mutex
	flags map[cancelKey]bool
}

type cancelKey struct {
	userID    string
	sessionID string
}

// NewCancelRegistry builds an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{flags: make(map[cancelKey]bool)}
}

// Cancel requests cooperative cancellation of the session's running turn.
func (r *CancelRegistry) Cancel(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags[cancelKey{userID, sessionID}] = true
}

// IsCancelled reports whether cancellation was requested.
func (r *CancelRegistry) IsCancelled(userID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags[cancelKey{userID, sessionID}]
}

// Clear resets the flag when a turn reaches a terminal state.
func (r *CancelRegistry) Clear(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, cancelKey{userID, sessionID})
}
