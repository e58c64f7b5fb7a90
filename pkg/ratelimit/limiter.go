// Package ratelimit enforces per-user consumption profiles: token and turn
// count limits over sliding windows, checked before any LM call is made.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/praxislabs/praxis/pkg/clock"
)

// Limiter checks and records consumption against a user's profile.
type Limiter struct {
	store Store
	clk   clock.Clock
	mu    sync.Mutex
}

// NewLimiter builds a limiter over the given store.
func NewLimiter(store Store, clk clock.Clock) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{store: store, clk: clk}, nil
}

// Check verifies the user may start a turn without recording anything. Users
// without a consumption profile are unlimited.
func (l *Limiter) Check(ctx context.Context, userID string) (*CheckResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(ctx, userID)
}

// Record adds consumed tokens and turns to the user's counters.
func (l *Limiter) Record(ctx context.Context, userID string, tokens, turns int64) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(ctx, userID, tokens, turns)
}

// CheckAndRecord checks the limits and, when allowed, records usage in one
// atomic step. The returned result reflects the counters after recording.
func (l *Limiter) CheckAndRecord(ctx context.Context, userID string, tokens, turns int64) (*CheckResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.checkLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}
	if err := l.recordLocked(ctx, userID, tokens, turns); err != nil {
		return nil, fmt.Errorf("failed to record usage: %w", err)
	}
	return l.checkLocked(ctx, userID)
}

// GetUsage returns the current counters against every limit in the profile.
func (l *Limiter) GetUsage(ctx context.Context, userID string) ([]Usage, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.checkLocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	return result.Usages, nil
}

// Reset clears the user's counters.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteUsage(ctx, userID)
}

// ResetExpired drops counters whose window ended before the cutoff.
func (l *Limiter) ResetExpired(ctx context.Context, before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteExpired(ctx, before)
}

func (l *Limiter) checkLocked(ctx context.Context, userID string) (*CheckResult, error) {
	limits, err := l.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption profile: %w", err)
	}
	result := &CheckResult{Allowed: true, Usages: make([]Usage, 0, len(limits))}
	if len(limits) == 0 {
		return result, nil
	}

	now := l.clk.Now()
	var earliestRetry *time.Time

	for _, limit := range limits {
		current, windowEnd, err := l.store.GetUsage(ctx, userID, limit.Type, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}

		remaining := limit.Max - current
		if remaining < 0 {
			remaining = 0
		}
		result.Usages = append(result.Usages, Usage{
			LimitType:  limit.Type,
			Window:     limit.Window,
			Current:    current,
			Limit:      limit.Max,
			WindowEnd:  windowEnd,
			Remaining:  remaining,
			Percentage: float64(current) / float64(limit.Max) * 100,
		})

		if current >= limit.Max {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					limit.Type, limit.Window, current, limit.Max)
				result.ExceededType = limit.Type
			}
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				end := windowEnd
				earliestRetry = &end
			}
		}
	}

	if !result.Allowed && earliestRetry != nil {
		if retry := earliestRetry.Sub(now); retry > 0 {
			result.RetryAfter = &retry
		}
	}
	return result, nil
}

func (l *Limiter) recordLocked(ctx context.Context, userID string, tokens, turns int64) error {
	limits, err := l.store.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load consumption profile: %w", err)
	}
	now := l.clk.Now()

	for _, limit := range limits {
		var amount int64
		switch limit.Type {
		case LimitTypeToken:
			amount = tokens
		case LimitTypeCount:
			amount = turns
		default:
			continue
		}
		if amount <= 0 {
			continue
		}

		_, windowEnd, err := l.store.GetUsage(ctx, userID, limit.Type, limit.Window)
		if err != nil {
			return fmt.Errorf("failed to get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
		if windowEnd.Before(now) {
			windowEnd = now.Add(limit.Window.Duration())
		}
		if err := l.store.IncrementUsage(ctx, userID, limit.Type, limit.Window, amount, windowEnd); err != nil {
			return fmt.Errorf("failed to increment usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
	}
	return nil
}
