package session

import (
	"context"
	"sort"
	"sync"

	"github.com/praxislabs/praxis/pkg/clock"
)

// MemoryStore keeps sessions in process memory. It backs tests and
// single-node deployments without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[sessionKey]*Session
	clk      clock.Clock
}

type sessionKey struct {
	userID    string
	sessionID string
}

// NewMemoryStore builds an empty store. A nil clock uses real time.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		sessions: make(map[sessionKey]*Session),
		clk:      clk,
	}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, userID, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionKey{userID, sessionID}
	if sess, ok := s.sessions[key]; ok {
		return sess.clone(), nil
	}
	now := s.clk.Now()
	sess := &Session{
		UserID:    userID,
		ID:        sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[key] = sess
	return sess.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, userID, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionKey{userID, sessionID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.clone(), nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for key, sess := range s.sessions {
		if key.userID == userID {
			out = append(out, sess.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, userID, sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(userID, sessionID)
	if err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clk.Now()
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = s.clk.Now()
	return nil
}

func (s *MemoryStore) AddTokens(_ context.Context, userID, sessionID string, input, output int, costUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(userID, sessionID)
	if err != nil {
		return err
	}
	sess.InputTokens += input
	sess.OutputTokens += output
	sess.CostUSD += costUSD
	sess.UpdatedAt = s.clk.Now()
	return nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, userID, sessionID string, turn *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(userID, sessionID)
	if err != nil {
		return err
	}
	sess.History = append(sess.History, *turn)
	if turn.ProfileTag != "" && !contains(sess.ProfileTags, turn.ProfileTag) {
		sess.ProfileTags = append(sess.ProfileTags, turn.ProfileTag)
	}
	if turn.Model != "" && !contains(sess.ModelsUsed, turn.Model) {
		sess.ModelsUsed = append(sess.ModelsUsed, turn.Model)
	}
	sess.UpdatedAt = s.clk.Now()
	return nil
}

func (s *MemoryStore) UpdateName(_ context.Context, userID, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.locked(userID, sessionID)
	if err != nil {
		return err
	}
	sess.Name = name
	sess.UpdatedAt = s.clk.Now()
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) locked(userID, sessionID string) (*Session, error) {
	sess, ok := s.sessions[sessionKey{userID, sessionID}]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (sess *Session) clone() *Session {
	clone := *sess
	clone.Messages = append([]Message(nil), sess.Messages...)
	clone.History = append([]Turn(nil), sess.History...)
	clone.ProfileTags = append([]string(nil), sess.ProfileTags...)
	clone.ModelsUsed = append([]string(nil), sess.ModelsUsed...)
	return &clone
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

var _ Store = (*MemoryStore)(nil)
