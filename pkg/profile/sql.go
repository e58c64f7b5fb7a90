package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/session"
)

const schemaTimeout = 30 * time.Second

const createPromptsTableSQL = `
CREATE TABLE IF NOT EXISTS prompts (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    description TEXT,
    sql_optimizable BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
);
`

const createPromptVersionsTableSQL = `
CREATE TABLE IF NOT EXISTS prompt_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    prompt_name VARCHAR(255) NOT NULL,
    version INTEGER NOT NULL,
    body TEXT NOT NULL,
    params_json TEXT,
    active BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_prompt_versions_name ON prompt_versions(prompt_name, version);
`

const createProfileMappingsTableSQL = `
CREATE TABLE IF NOT EXISTS profile_prompt_mappings (
    profile_tag VARCHAR(255) NOT NULL,
    prompt_name VARCHAR(255) NOT NULL,
    version INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (profile_tag, prompt_name)
);
`

const createProfilesTableSQL = `
CREATE TABLE IF NOT EXISTS profiles (
    tag VARCHAR(255) NOT NULL PRIMARY KEY,
    profile_json TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// SQLLibrary persists the prompt library and profiles in sqlite, postgres,
// or mysql. It shares the session package's dialect helpers so all schemas
// rewrite the same way.
type SQLLibrary struct {
	db      *sql.DB
	dialect string
	clk     clock.Clock
}

// NewSQLLibrary wraps an open connection and creates the schema.
func NewSQLLibrary(db *sql.DB, dialect string, clk clock.Clock) (*SQLLibrary, error) {
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

	l := &SQLLibrary{db: db, dialect: dialect, clk: clk}
	if err := l.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize prompt library schema: %w", err)
	}
	return l, nil
}

func (l *SQLLibrary) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()

	for _, ddl := range []string{
		createPromptsTableSQL,
		session.AdaptAutoIncrement(l.dialect, createPromptVersionsTableSQL),
		createProfileMappingsTableSQL,
		createProfilesTableSQL,
	} {
		if _, err := l.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

func (l *SQLLibrary) ResolvePrompt(ctx context.Context, profileTag, name string) (*PromptVersion, error) {
	var pinned sql.NullInt64
	err := l.db.QueryRowContext(ctx, session.Rebind(l.dialect, `
SELECT version FROM profile_prompt_mappings WHERE profile_tag = ? AND prompt_name = ?`),
		profileTag, name).Scan(&pinned)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read prompt mapping: %w", err)
	}

	query := `
SELECT prompt_name, version, body, params_json, active, created_at
FROM prompt_versions WHERE prompt_name = ? AND active = TRUE
ORDER BY version DESC`
	args := []any{name}
	if pinned.Valid {
		query = `
SELECT prompt_name, version, body, params_json, active, created_at
FROM prompt_versions WHERE prompt_name = ? AND version = ?`
		args = append(args, pinned.Int64)
	}

	row := l.db.QueryRowContext(ctx, session.Rebind(l.dialect, query), args...)
	var v PromptVersion
	var params sql.NullString
	if err := row.Scan(&v.PromptName, &v.Version, &v.Body, &params, &v.Active, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if pinned.Valid {
				return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, name, pinned.Int64)
			}
			return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
		}
		return nil, fmt.Errorf("failed to load prompt version: %w", err)
	}
	if params.Valid && params.String != "" {
		_ = json.Unmarshal([]byte(params.String), &v.Params)
	}
	return &v, nil
}

func (l *SQLLibrary) GetPrompt(ctx context.Context, name string) (*Prompt, error) {
	row := l.db.QueryRowContext(ctx, session.Rebind(l.dialect, `
SELECT name, description, sql_optimizable, created_at FROM prompts WHERE name = ?`), name)

	var p Prompt
	var desc sql.NullString
	if err := row.Scan(&p.Name, &desc, &p.SQLOptimizable, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
		}
		return nil, fmt.Errorf("failed to load prompt: %w", err)
	}
	p.Description = desc.String
	return &p, nil
}

func (l *SQLLibrary) ListPrompts(ctx context.Context) ([]Prompt, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT name, description, sql_optimizable, created_at FROM prompts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var out []Prompt
	for rows.Next() {
		var p Prompt
		var desc sql.NullString
		if err := rows.Scan(&p.Name, &desc, &p.SQLOptimizable, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		p.Description = desc.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *SQLLibrary) SavePrompt(ctx context.Context, p Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = l.clk.Now()
	}
	_, err := l.db.ExecContext(ctx, session.Rebind(l.dialect,
		`INSERT INTO prompts (name, description, sql_optimizable, created_at) VALUES (?, ?, ?, ?)`+
			l.upsertPromptSuffix()),
		p.Name, p.Description, p.SQLOptimizable, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save prompt: %w", err)
	}
	return nil
}

func (l *SQLLibrary) upsertPromptSuffix() string {
	if l.dialect == "mysql" {
		return " ON DUPLICATE KEY UPDATE description = VALUES(description), sql_optimizable = VALUES(sql_optimizable)"
	}
	return " ON CONFLICT (name) DO UPDATE SET description = excluded.description, sql_optimizable = excluded.sql_optimizable"
}

func (l *SQLLibrary) AddVersion(ctx context.Context, v PromptVersion) (int, error) {
	if _, err := l.GetPrompt(ctx, v.PromptName); err != nil {
		return 0, err
	}

	var next int
	if err := l.db.QueryRowContext(ctx, session.Rebind(l.dialect, `
SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_name = ?`),
		v.PromptName).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next version: %w", err)
	}

	if _, err := l.db.ExecContext(ctx, session.Rebind(l.dialect, `
UPDATE prompt_versions SET active = FALSE WHERE prompt_name = ?`), v.PromptName); err != nil {
		return 0, fmt.Errorf("failed to deactivate prior versions: %w", err)
	}

	var paramsJSON any
	if len(v.Params) > 0 {
		encoded, _ := json.Marshal(v.Params)
		paramsJSON = string(encoded)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = l.clk.Now()
	}
	if _, err := l.db.ExecContext(ctx, session.Rebind(l.dialect, `
INSERT INTO prompt_versions (prompt_name, version, body, params_json, active, created_at)
VALUES (?, ?, ?, ?, TRUE, ?)`),
		v.PromptName, next, v.Body, paramsJSON, v.CreatedAt); err != nil {
		return 0, fmt.Errorf("failed to insert prompt version: %w", err)
	}
	return next, nil
}

func (l *SQLLibrary) MapProfile(ctx context.Context, profileTag, promptName string, version int) error {
	var exists int
	if err := l.db.QueryRowContext(ctx, session.Rebind(l.dialect, `
SELECT COUNT(*) FROM prompt_versions WHERE prompt_name = ? AND version = ?`),
		promptName, version).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check prompt version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, promptName, version)
	}

	suffix := " ON CONFLICT (profile_tag, prompt_name) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at"
	if l.dialect == "mysql" {
		suffix = " ON DUPLICATE KEY UPDATE version = VALUES(version), updated_at = VALUES(updated_at)"
	}
	if _, err := l.db.ExecContext(ctx, session.Rebind(l.dialect,
		`INSERT INTO profile_prompt_mappings (profile_tag, prompt_name, version, updated_at) VALUES (?, ?, ?, ?)`+suffix),
		profileTag, promptName, version, l.clk.Now()); err != nil {
		return fmt.Errorf("failed to map profile prompt: %w", err)
	}
	return nil
}

func (l *SQLLibrary) Profiles(ctx context.Context) ([]*Profile, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT profile_json FROM profiles ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(payload), &row); err != nil {
			return nil, fmt.Errorf("failed to decode profile payload: %w", err)
		}
		p, err := DecodeProfile(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *SQLLibrary) SaveProfile(ctx context.Context, p *Profile) error {
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	suffix := " ON CONFLICT (tag) DO UPDATE SET profile_json = excluded.profile_json, updated_at = excluded.updated_at"
	if l.dialect == "mysql" {
		suffix = " ON DUPLICATE KEY UPDATE profile_json = VALUES(profile_json), updated_at = VALUES(updated_at)"
	}
	if _, err := l.db.ExecContext(ctx, session.Rebind(l.dialect,
		`INSERT INTO profiles (tag, profile_json, updated_at) VALUES (?, ?, ?)`+suffix),
		p.Tag, string(payload), l.clk.Now()); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

var _ Library = (*SQLLibrary)(nil)
