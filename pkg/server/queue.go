package server

import "sync"

// turnQueue serialises turns per (user, session): a turn does not start
// until the previous one on the same key reached a terminal state. Distinct
// keys run independently.
type turnQueue struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func newTurnQueue() *turnQueue {
	return &turnQueue{locks: make(map[string]*entry)}
}

// acquire blocks until the key is free and returns the release func.
func (q *turnQueue) acquire(userID, sessionID string) func() {
	key := userID + "\x00" + sessionID

	q.mu.Lock()
	e, ok := q.locks[key]
	if !ok {
		e = &entry{}
		q.locks[key] = e
	}
	e.refs++
	q.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		q.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(q.locks, key)
		}
		q.mu.Unlock()
	}
}
