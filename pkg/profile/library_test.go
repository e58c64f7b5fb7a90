package profile

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/clock"
)

func openTestLibraries(t *testing.T) (map[string]Library, *sql.DB) {
	t.Helper()
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sqlLib, err := NewSQLLibrary(db, "sqlite", clk)
	require.NoError(t, err)

	return map[string]Library{
		"memory": NewMemoryLibrary(),
		"sql":    sqlLib,
	}, db
}

func TestLibrary_ResolvePromptActiveAndPinned(t *testing.T) {
	libs, _ := openTestLibraries(t)
	for name, lib := range libs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, lib.SavePrompt(ctx, Prompt{
				Name:           "monthly_revenue_report",
				Description:    "Builds the monthly revenue summary",
				SQLOptimizable: true,
			}))

			v1, err := lib.AddVersion(ctx, PromptVersion{
				PromptName: "monthly_revenue_report",
				Body:       "Summarize revenue for {month}.",
				Params:     []string{"month"},
			})
			require.NoError(t, err)
			assert.Equal(t, 1, v1)

			v2, err := lib.AddVersion(ctx, PromptVersion{
				PromptName: "monthly_revenue_report",
				Body:       "Summarize revenue and churn for {month}.",
				Params:     []string{"month"},
			})
			require.NoError(t, err)
			assert.Equal(t, 2, v2)

			// No mapping: the latest active version wins.
			resolved, err := lib.ResolvePrompt(ctx, "analyst", "monthly_revenue_report")
			require.NoError(t, err)
			assert.Equal(t, 2, resolved.Version)
			assert.Contains(t, resolved.Body, "churn")
			assert.Equal(t, []string{"month"}, resolved.Params)

			// Pin the profile to v1 and resolve again.
			require.NoError(t, lib.MapProfile(ctx, "analyst", "monthly_revenue_report", 1))
			resolved, err = lib.ResolvePrompt(ctx, "analyst", "monthly_revenue_report")
			require.NoError(t, err)
			assert.Equal(t, 1, resolved.Version)

			// Other profiles still get the active version.
			resolved, err = lib.ResolvePrompt(ctx, "support", "monthly_revenue_report")
			require.NoError(t, err)
			assert.Equal(t, 2, resolved.Version)
		})
	}
}

func TestLibrary_Errors(t *testing.T) {
	libs, _ := openTestLibraries(t)
	for name, lib := range libs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := lib.ResolvePrompt(ctx, "analyst", "missing")
			assert.ErrorIs(t, err, ErrPromptNotFound)

			_, err = lib.GetPrompt(ctx, "missing")
			assert.ErrorIs(t, err, ErrPromptNotFound)

			_, err = lib.AddVersion(ctx, PromptVersion{PromptName: "missing", Body: "x"})
			assert.ErrorIs(t, err, ErrPromptNotFound)

			require.NoError(t, lib.SavePrompt(ctx, Prompt{Name: "p"}))
			err = lib.MapProfile(ctx, "analyst", "p", 7)
			assert.ErrorIs(t, err, ErrVersionNotFound)
		})
	}
}

func TestLibrary_ListPrompts(t *testing.T) {
	libs, _ := openTestLibraries(t)
	for name, lib := range libs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, lib.SavePrompt(ctx, Prompt{Name: "zeta"}))
			require.NoError(t, lib.SavePrompt(ctx, Prompt{Name: "alpha", SQLOptimizable: true}))

			prompts, err := lib.ListPrompts(ctx)
			require.NoError(t, err)
			require.Len(t, prompts, 2)
			assert.Equal(t, "alpha", prompts[0].Name)
			assert.True(t, prompts[0].SQLOptimizable)
			assert.Equal(t, "zeta", prompts[1].Name)
		})
	}
}

func TestLibrary_ProfilesRoundTrip(t *testing.T) {
	libs, _ := openTestLibraries(t)
	for name, lib := range libs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, lib.SaveProfile(ctx, &Profile{
				Tag:      "analyst",
				Type:     TypeToolEnabled,
				Provider: "openai",
				Model:    "gpt-4o",
			}))

			profiles, err := lib.Profiles(ctx)
			require.NoError(t, err)
			require.Len(t, profiles, 1)
			assert.Equal(t, "analyst", profiles[0].Tag)
			// Defaults survive the round trip.
			assert.Equal(t, "gpt-4o", profiles[0].TacticalModel)

			assert.Error(t, lib.SaveProfile(ctx, &Profile{Tag: "", Provider: "openai"}))
		})
	}
}

func TestCosts_PriceKnownAndUnknown(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sqlCosts, err := NewSQLCosts(db, "sqlite", clk)
	require.NoError(t, err)

	catalogs := map[string]CostCatalog{
		"memory": NewMemoryCosts(),
		"sql":    sqlCosts,
	}
	for name, catalog := range catalogs {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, catalog.SetCost(ctx, ModelCost{
				Provider:    "openai",
				Model:       "gpt-4o",
				InputPer1K:  0.0025,
				OutputPer1K: 0.01,
			}))

			// 2000 input and 500 output tokens.
			cost, err := catalog.Price(ctx, "OpenAI", "GPT-4o", 2000, 500)
			require.NoError(t, err)
			assert.InDelta(t, 0.01, cost, 1e-9)

			// Unknown models price at zero, not an error.
			cost, err = catalog.Price(ctx, "openai", "unknown-model", 1000, 1000)
			require.NoError(t, err)
			assert.Zero(t, cost)

			assert.Error(t, catalog.SetCost(ctx, ModelCost{Provider: "openai"}))

			costs, err := catalog.Costs(ctx)
			require.NoError(t, err)
			require.Len(t, costs, 1)
			assert.Equal(t, 0.0025, costs[0].InputPer1K)
		})
	}
}
