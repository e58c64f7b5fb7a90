package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/session"
)

const schemaTimeout = 30 * time.Second

const createConsumptionProfilesTableSQL = `
CREATE TABLE IF NOT EXISTS consumption_profiles (
    user_id VARCHAR(255) NOT NULL,
    limit_type VARCHAR(50) NOT NULL,
    time_window VARCHAR(50) NOT NULL,
    max_amount BIGINT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, limit_type, time_window)
);
`

const createConsumptionUsageTableSQL = `
CREATE TABLE IF NOT EXISTS consumption_usage (
    user_id VARCHAR(255) NOT NULL,
    limit_type VARCHAR(50) NOT NULL,
    time_window VARCHAR(50) NOT NULL,
    current_amount BIGINT NOT NULL DEFAULT 0,
    window_end TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, limit_type, time_window)
);
`

// SQLStore persists consumption profiles and usage counters in sqlite,
// postgres, or mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	clk     clock.Clock
}

// NewSQLStore wraps an open connection and creates the schema.
func NewSQLStore(db *sql.DB, dialect string, clk clock.Clock) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}
	if clk == nil {
		clk = clock.Real{}
	}

	s := &SQLStore{db: db, dialect: dialect, clk: clk}
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	for _, ddl := range []string{createConsumptionProfilesTableSQL, createConsumptionUsageTableSQL} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("failed to initialize consumption schema: %w", err)
		}
	}
	return s, nil
}

func (s *SQLStore) GetProfile(ctx context.Context, userID string) ([]Limit, error) {
	limits, err := s.profileRows(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(limits) > 0 || userID == "" {
		return limits, nil
	}
	// Fall back to the default profile.
	return s.profileRows(ctx, "")
}

func (s *SQLStore) profileRows(ctx context.Context, userID string) ([]Limit, error) {
	rows, err := s.db.QueryContext(ctx, session.Rebind(s.dialect, `
SELECT limit_type, time_window, max_amount FROM consumption_profiles
WHERE user_id = ? ORDER BY limit_type, time_window`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load consumption profile: %w", err)
	}
	defer rows.Close()

	var limits []Limit
	for rows.Next() {
		var l Limit
		if err := rows.Scan(&l.Type, &l.Window, &l.Max); err != nil {
			return nil, fmt.Errorf("failed to scan consumption limit: %w", err)
		}
		limits = append(limits, l)
	}
	return limits, rows.Err()
}

func (s *SQLStore) SaveProfile(ctx context.Context, p ConsumptionProfile) error {
	if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect,
		`DELETE FROM consumption_profiles WHERE user_id = ?`), p.UserID); err != nil {
		return fmt.Errorf("failed to clear consumption profile: %w", err)
	}
	now := s.clk.Now()
	for _, l := range p.Limits {
		if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect, `
INSERT INTO consumption_profiles (user_id, limit_type, time_window, max_amount, updated_at)
VALUES (?, ?, ?, ?, ?)`),
			p.UserID, l.Type, l.Window, l.Max, now); err != nil {
			return fmt.Errorf("failed to save consumption limit: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) GetUsage(ctx context.Context, userID string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	row := s.db.QueryRowContext(ctx, session.Rebind(s.dialect, `
SELECT current_amount, window_end FROM consumption_usage
WHERE user_id = ? AND limit_type = ? AND time_window = ?`),
		userID, limitType, window)

	var current int64
	var windowEnd time.Time
	if err := row.Scan(&current, &windowEnd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, fmt.Errorf("failed to load usage: %w", err)
	}
	return current, windowEnd, nil
}

func (s *SQLStore) IncrementUsage(ctx context.Context, userID string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	_, storedEnd, err := s.GetUsage(ctx, userID, limitType, window)
	if err != nil {
		return err
	}

	if storedEnd.IsZero() || storedEnd.Before(s.clk.Now()) {
		suffix := " ON CONFLICT (user_id, limit_type, time_window) DO UPDATE SET current_amount = excluded.current_amount, window_end = excluded.window_end"
		if s.dialect == "mysql" {
			suffix = " ON DUPLICATE KEY UPDATE current_amount = VALUES(current_amount), window_end = VALUES(window_end)"
		}
		if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect,
			`INSERT INTO consumption_usage (user_id, limit_type, time_window, current_amount, window_end) VALUES (?, ?, ?, ?, ?)`+suffix),
			userID, limitType, window, amount, windowEnd); err != nil {
			return fmt.Errorf("failed to start usage window: %w", err)
		}
		return nil
	}

	if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect, `
UPDATE consumption_usage SET current_amount = current_amount + ?
WHERE user_id = ? AND limit_type = ? AND time_window = ?`),
		amount, userID, limitType, window); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteUsage(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect,
		`DELETE FROM consumption_usage WHERE user_id = ?`), userID); err != nil {
		return fmt.Errorf("failed to delete usage: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context, before time.Time) error {
	if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect,
		`DELETE FROM consumption_usage WHERE window_end < ?`), before); err != nil {
		return fmt.Errorf("failed to delete expired usage: %w", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
