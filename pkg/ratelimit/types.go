package ratelimit

import (
	"time"
)

// TimeWindow is a rate limiting window.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
	WindowWeek   TimeWindow = "week"
	WindowMonth  TimeWindow = "month"
)

// Duration returns the window length. Months are approximated at 30 days.
func (w TimeWindow) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowHour:
		return time.Hour
	case WindowDay:
		return 24 * time.Hour
	case WindowWeek:
		return 7 * 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// LimitType is what a limit counts.
type LimitType string

const (
	LimitTypeToken LimitType = "token" // LLM token consumption
	LimitTypeCount LimitType = "count" // turn count
)

// Limit is one bound of a consumption profile.
type Limit struct {
	Type   LimitType  `json:"type"`
	Window TimeWindow `json:"window"`
	Max    int64      `json:"max"`
}

// ConsumptionProfile is the set of limits applied to one user. An empty
// UserID marks the default profile applied to users without their own rows.
type ConsumptionProfile struct {
	UserID string  `json:"user_id"`
	Limits []Limit `json:"limits"`
}

// Usage is the current consumption against one limit.
type Usage struct {
	LimitType  LimitType  `json:"limit_type"`
	Window     TimeWindow `json:"window"`
	Current    int64      `json:"current"`
	Limit      int64      `json:"limit"`
	WindowEnd  time.Time  `json:"window_end"`
	Remaining  int64      `json:"remaining"`
	Percentage float64    `json:"percentage"`
}

// CheckResult is the outcome of a limit check.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// ExceededType names the first limit that tripped; callers map token
	// limits to quota errors and count limits to rate-limit errors.
	ExceededType LimitType      `json:"exceeded_type,omitempty"`
	Usages       []Usage        `json:"usages"`
	RetryAfter   *time.Duration `json:"retry_after,omitempty"`
}

// IsExceeded reports whether any limit tripped.
func (r *CheckResult) IsExceeded() bool {
	return !r.Allowed
}

// GetUsage returns the usage entry for a limit type and window, or nil.
func (r *CheckResult) GetUsage(limitType LimitType, window TimeWindow) *Usage {
	for i := range r.Usages {
		if r.Usages[i].LimitType == limitType && r.Usages[i].Window == window {
			return &r.Usages[i]
		}
	}
	return nil
}
