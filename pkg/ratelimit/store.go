package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/praxislabs/praxis/pkg/clock"
)

// Store persists consumption profiles and usage counters.
type Store interface {
	// GetProfile returns the limits for userID, falling back to the default
	// profile (empty user id). A user with no profile at all gets nil limits,
	// which the limiter treats as unlimited.
	GetProfile(ctx context.Context, userID string) ([]Limit, error)
	SaveProfile(ctx context.Context, p ConsumptionProfile) error

	// GetUsage returns the current counter and window end. A missing counter
	// returns (0, zero time).
	GetUsage(ctx context.Context, userID string, limitType LimitType, window TimeWindow) (int64, time.Time, error)
	// IncrementUsage adds amount inside the current window, starting a new
	// window at windowEnd when the stored one has lapsed.
	IncrementUsage(ctx context.Context, userID string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error
	DeleteUsage(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, before time.Time) error
}

type usageKey struct {
	userID    string
	limitType LimitType
	window    TimeWindow
}

type usageEntry struct {
	current   int64
	windowEnd time.Time
}

// MemoryStore keeps profiles and counters in process.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string][]Limit
	usage    map[usageKey]*usageEntry
	clk      clock.Clock
}

// NewMemoryStore builds an empty store.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		profiles: make(map[string][]Limit),
		usage:    make(map[usageKey]*usageEntry),
		clk:      clk,
	}
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) ([]Limit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limits, ok := s.profiles[userID]; ok {
		return append([]Limit(nil), limits...), nil
	}
	if limits, ok := s.profiles[""]; ok {
		return append([]Limit(nil), limits...), nil
	}
	return nil, nil
}

func (s *MemoryStore) SaveProfile(_ context.Context, p ConsumptionProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = append([]Limit(nil), p.Limits...)
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, userID string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.usage[usageKey{userID, limitType, window}]
	if !ok {
		return 0, time.Time{}, nil
	}
	return entry.current, entry.windowEnd, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, userID string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{userID, limitType, window}
	entry, ok := s.usage[key]
	if !ok || entry.windowEnd.Before(s.clk.Now()) {
		s.usage[key] = &usageEntry{current: amount, windowEnd: windowEnd}
		return nil
	}
	entry.current += amount
	return nil
}

func (s *MemoryStore) DeleteUsage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.usage {
		if key.userID == userID {
			delete(s.usage, key)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.usage {
		if entry.windowEnd.Before(before) {
			delete(s.usage, key)
		}
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
