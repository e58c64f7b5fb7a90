package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/session"
)

// ModelCost is a per-1k-token USD rate for one (provider, model) pair.
type ModelCost struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// CostCatalog prices LLM calls. Unknown models price at zero so accounting
// never blocks a turn.
type CostCatalog interface {
	Price(ctx context.Context, provider, model string, inputTokens, outputTokens int) (float64, error)
	SetCost(ctx context.Context, c ModelCost) error
	Costs(ctx context.Context) ([]ModelCost, error)
}

func costKey(provider, model string) string {
	return strings.ToLower(provider) + "\x00" + strings.ToLower(model)
}

func price(c ModelCost, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*c.InputPer1K + float64(outputTokens)/1000*c.OutputPer1K
}

// MemoryCosts is the in-process cost catalog.
type MemoryCosts struct {
	mu    sync.RWMutex
	rates map[string]ModelCost
}

// NewMemoryCosts builds a catalog seeded with the given rates.
func NewMemoryCosts(seed ...ModelCost) *MemoryCosts {
	m := &MemoryCosts{rates: make(map[string]ModelCost)}
	for _, c := range seed {
		m.rates[costKey(c.Provider, c.Model)] = c
	}
	return m
}

func (m *MemoryCosts) Price(_ context.Context, provider, model string, inputTokens, outputTokens int) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.rates[costKey(provider, model)]
	if !ok {
		return 0, nil
	}
	return price(c, inputTokens, outputTokens), nil
}

func (m *MemoryCosts) SetCost(_ context.Context, c ModelCost) error {
	if c.Provider == "" || c.Model == "" {
		return fmt.Errorf("provider and model are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[costKey(c.Provider, c.Model)] = c
	return nil
}

func (m *MemoryCosts) Costs(_ context.Context) ([]ModelCost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ModelCost, 0, len(m.rates))
	for _, c := range m.rates {
		out = append(out, c)
	}
	return out, nil
}

const createModelCostsTableSQL = `
CREATE TABLE IF NOT EXISTS llm_model_costs (
    provider VARCHAR(255) NOT NULL,
    model VARCHAR(255) NOT NULL,
    input_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
    output_per_1k DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (provider, model)
);
`

// SQLCosts persists model rates in llm_model_costs.
type SQLCosts struct {
	db      *sql.DB
	dialect string
	clk     clock.Clock
}

// NewSQLCosts wraps an open connection and creates the schema.
func NewSQLCosts(db *sql.DB, dialect string, clk clock.Clock) (*SQLCosts, error) {
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

	c := &SQLCosts{db: db, dialect: dialect, clk: clk}
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, createModelCostsTableSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize model cost schema: %w", err)
	}
	return c, nil
}

func (s *SQLCosts) Price(ctx context.Context, provider, model string, inputTokens, outputTokens int) (float64, error) {
	row := s.db.QueryRowContext(ctx, session.Rebind(s.dialect, `
SELECT input_per_1k, output_per_1k FROM llm_model_costs
WHERE LOWER(provider) = LOWER(?) AND LOWER(model) = LOWER(?)`),
		provider, model)

	var c ModelCost
	if err := row.Scan(&c.InputPer1K, &c.OutputPer1K); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load model cost: %w", err)
	}
	return price(c, inputTokens, outputTokens), nil
}

func (s *SQLCosts) SetCost(ctx context.Context, c ModelCost) error {
	if c.Provider == "" || c.Model == "" {
		return fmt.Errorf("provider and model are required")
	}
	suffix := " ON CONFLICT (provider, model) DO UPDATE SET input_per_1k = excluded.input_per_1k, output_per_1k = excluded.output_per_1k, updated_at = excluded.updated_at"
	if s.dialect == "mysql" {
		suffix = " ON DUPLICATE KEY UPDATE input_per_1k = VALUES(input_per_1k), output_per_1k = VALUES(output_per_1k), updated_at = VALUES(updated_at)"
	}
	if _, err := s.db.ExecContext(ctx, session.Rebind(s.dialect,
		`INSERT INTO llm_model_costs (provider, model, input_per_1k, output_per_1k, updated_at) VALUES (?, ?, ?, ?, ?)`+suffix),
		c.Provider, c.Model, c.InputPer1K, c.OutputPer1K, s.clk.Now()); err != nil {
		return fmt.Errorf("failed to save model cost: %w", err)
	}
	return nil
}

func (s *SQLCosts) Costs(ctx context.Context) ([]ModelCost, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, model, input_per_1k, output_per_1k FROM llm_model_costs ORDER BY provider, model`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model costs: %w", err)
	}
	defer rows.Close()

	var out []ModelCost
	for rows.Next() {
		var c ModelCost
		if err := rows.Scan(&c.Provider, &c.Model, &c.InputPer1K, &c.OutputPer1K); err != nil {
			return nil, fmt.Errorf("failed to scan model cost: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

var (
	_ CostCatalog = (*MemoryCosts)(nil)
	_ CostCatalog = (*SQLCosts)(nil)
)
