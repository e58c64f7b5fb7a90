package session

import "context"

// Store persists sessions and turns. Every method is an atomic update; the
// store serialises writes per session so concurrent turns on different
// sessions never interleave within one session's state.
type Store interface {
	// GetOrCreate loads the session, creating an empty one on first use.
	GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, error)

	// Get loads an existing session or returns ErrSessionNotFound.
	Get(ctx context.Context, userID, sessionID string) (*Session, error)

	// List returns the user's sessions, most recently updated first.
	List(ctx context.Context, userID string) ([]*Session, error)

	// AppendMessage adds one conversation entry.
	AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error

	// AddTokens accumulates per-session token and cost totals.
	AddTokens(ctx context.Context, userID, sessionID string, input, output int, costUSD float64) error

	// AppendTurn appends an immutable turn record to the workflow history.
	AppendTurn(ctx context.Context, userID, sessionID string, turn *Turn) error

	// UpdateName sets the session's display name.
	UpdateName(ctx context.Context, userID, sessionID, name string) error

	Close() error
}
