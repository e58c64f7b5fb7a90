package ratelimit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/clock"
)

func openTestStores(t *testing.T) (map[string]Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sqlStore, err := NewSQLStore(db, "sqlite", clk)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(clk),
		"sql":    sqlStore,
	}, clk
}

func TestLimiter_UnlimitedWithoutProfile(t *testing.T) {
	stores, clk := openTestStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			limiter, err := NewLimiter(store, clk)
			require.NoError(t, err)

			result, err := limiter.CheckAndRecord(context.Background(), "u1", 5000, 1)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Empty(t, result.Usages)
		})
	}
}

func TestLimiter_BlocksAtTokenLimit(t *testing.T) {
	stores, clk := openTestStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveProfile(ctx, ConsumptionProfile{
				UserID: "u1",
				Limits: []Limit{{Type: LimitTypeToken, Window: WindowHour, Max: 1000}},
			}))
			limiter, err := NewLimiter(store, clk)
			require.NoError(t, err)

			result, err := limiter.CheckAndRecord(ctx, "u1", 600, 1)
			require.NoError(t, err)
			assert.True(t, result.Allowed)

			result, err = limiter.CheckAndRecord(ctx, "u1", 600, 1)
			require.NoError(t, err)
			// 1200/1000 after recording; the turn itself was allowed.
			usage := result.GetUsage(LimitTypeToken, WindowHour)
			require.NotNil(t, usage)
			assert.Equal(t, int64(1200), usage.Current)
			assert.Zero(t, usage.Remaining)

			// Next turn is rejected before any recording.
			result, err = limiter.Check(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, LimitTypeToken, result.ExceededType)
			assert.Contains(t, result.Reason, "token limit exceeded")
			require.NotNil(t, result.RetryAfter)
			assert.Greater(t, *result.RetryAfter, time.Duration(0))
		})
	}
}

func TestLimiter_WindowExpiryResetsCounters(t *testing.T) {
	stores, clk := openTestStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveProfile(ctx, ConsumptionProfile{
				UserID: "u1",
				Limits: []Limit{{Type: LimitTypeCount, Window: WindowMinute, Max: 2}},
			}))
			limiter, err := NewLimiter(store, clk)
			require.NoError(t, err)

			for i := 0; i < 2; i++ {
				result, err := limiter.CheckAndRecord(ctx, "u1", 0, 1)
				require.NoError(t, err)
				require.NotNil(t, result)
			}
			result, err := limiter.Check(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, result.Allowed)
			assert.Equal(t, LimitTypeCount, result.ExceededType)

			clk.Advance(2 * time.Minute)

			result, err = limiter.Check(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			usage := result.GetUsage(LimitTypeCount, WindowMinute)
			require.NotNil(t, usage)
			assert.Zero(t, usage.Current)
		})
	}
}

func TestLimiter_DefaultProfileFallback(t *testing.T) {
	stores, clk := openTestStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveProfile(ctx, ConsumptionProfile{
				Limits: []Limit{{Type: LimitTypeCount, Window: WindowDay, Max: 10}},
			}))
			require.NoError(t, store.SaveProfile(ctx, ConsumptionProfile{
				UserID: "vip",
				Limits: []Limit{{Type: LimitTypeCount, Window: WindowDay, Max: 100}},
			}))
			limiter, err := NewLimiter(store, clk)
			require.NoError(t, err)

			usages, err := limiter.GetUsage(ctx, "anonymous")
			require.NoError(t, err)
			require.Len(t, usages, 1)
			assert.Equal(t, int64(10), usages[0].Limit)

			usages, err = limiter.GetUsage(ctx, "vip")
			require.NoError(t, err)
			require.Len(t, usages, 1)
			assert.Equal(t, int64(100), usages[0].Limit)
		})
	}
}

func TestLimiter_ResetAndResetExpired(t *testing.T) {
	stores, clk := openTestStores(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.SaveProfile(ctx, ConsumptionProfile{
				UserID: "u1",
				Limits: []Limit{{Type: LimitTypeToken, Window: WindowMinute, Max: 100}},
			}))
			limiter, err := NewLimiter(store, clk)
			require.NoError(t, err)

			_, err = limiter.CheckAndRecord(ctx, "u1", 100, 1)
			require.NoError(t, err)
			result, err := limiter.Check(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, result.Allowed)

			require.NoError(t, limiter.Reset(ctx, "u1"))
			result, err = limiter.Check(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, result.Allowed)

			_, err = limiter.CheckAndRecord(ctx, "u1", 50, 1)
			require.NoError(t, err)
			clk.Advance(5 * time.Minute)
			require.NoError(t, limiter.ResetExpired(ctx, clk.Now()))

			current, _, err := store.GetUsage(ctx, "u1", LimitTypeToken, WindowMinute)
			require.NoError(t, err)
			assert.Zero(t, current)
		})
	}
}

func TestLimiter_RejectsEmptyUser(t *testing.T) {
	stores, clk := openTestStores(t)
	limiter, err := NewLimiter(stores["memory"], clk)
	require.NoError(t, err)

	_, err = limiter.Check(context.Background(), "")
	assert.Error(t, err)
	assert.Error(t, limiter.Record(context.Background(), "", 1, 1))
}
