package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/praxislabs/praxis/pkg/clock"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schemaTimeout = 30 * time.Second

const createUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
    user_id VARCHAR(255) NOT NULL PRIMARY KEY,
    created_at TIMESTAMP NOT NULL
);
`

const createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    name VARCHAR(255),
    input_tokens BIGINT NOT NULL DEFAULT 0,
    output_tokens BIGINT NOT NULL DEFAULT 0,
    cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
    profile_tags TEXT,
    models_used TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

const createMessagesTableSQL = `
CREATE TABLE IF NOT EXISTS session_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    rich_json TEXT,
    sequence_num INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON session_messages(user_id, session_id, sequence_num);
`

const createWorkflowHistoryTableSQL = `
CREATE TABLE IF NOT EXISTS workflow_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    turn_id VARCHAR(255) NOT NULL,
    turn_num INTEGER NOT NULL,
    status VARCHAR(50) NOT NULL,
    is_partial BOOLEAN NOT NULL DEFAULT FALSE,
    turn_json TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_session ON workflow_history(user_id, session_id, turn_num);
CREATE INDEX IF NOT EXISTS idx_history_turn_id ON workflow_history(turn_id);
`

// SQLStore persists sessions in sqlite, postgres, or mysql.
type SQLStore struct {
	db      *sql.DB
	dialect string
	clk     clock.Clock
}

// NewSQLStore wraps an open connection. dialect is one of sqlite, postgres,
// mysql; the schema is created on construction.
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
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()

	for _, ddl := range []string{
		createUsersTableSQL,
		createSessionsTableSQL,
		AdaptAutoIncrement(s.dialect, createMessagesTableSQL),
		AdaptAutoIncrement(s.dialect, createWorkflowHistoryTableSQL),
	} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// AdaptAutoIncrement rewrites the sqlite autoincrement column for the other
// dialects. Shared by the ratelimit and profile schemas.
func AdaptAutoIncrement(dialect, ddl string) string {
	switch dialect {
	case "postgres":
		return strings.Replace(ddl, "id INTEGER PRIMARY KEY AUTOINCREMENT", "id SERIAL PRIMARY KEY", 1)
	case "mysql":
		return strings.Replace(ddl, "id INTEGER PRIMARY KEY AUTOINCREMENT", "id BIGINT PRIMARY KEY AUTO_INCREMENT", 1)
	default:
		return ddl
	}
}

// Rebind converts ?-style placeholders to $n for postgres.
func Rebind(dialect, query string) string {
	if dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *SQLStore) GetOrCreate(ctx context.Context, userID, sessionID string) (*Session, error) {
	sess, err := s.Get(ctx, userID, sessionID)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrSessionNotFound) {
		return nil, err
	}

	now := s.clk.Now()
	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect,
		`INSERT INTO users (user_id, created_at) VALUES (?, ?)`+s.ignoreConflict("user_id")),
		userID, now); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect,
		`INSERT INTO sessions (user_id, session_id, created_at, updated_at) VALUES (?, ?, ?, ?)`),
		userID, sessionID, now, now); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s.Get(ctx, userID, sessionID)
}

// ignoreConflict renders the dialect's insert-or-ignore suffix.
func (s *SQLStore) ignoreConflict(column string) string {
	switch s.dialect {
	case "mysql":
		return " ON DUPLICATE KEY UPDATE user_id = user_id"
	default:
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", column)
	}
}

func (s *SQLStore) Get(ctx context.Context, userID, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, Rebind(s.dialect, `
SELECT name, input_tokens, output_tokens, cost_usd, profile_tags, models_used, created_at, updated_at
FROM sessions WHERE user_id = ? AND session_id = ?`),
		userID, sessionID)

	sess := &Session{UserID: userID, ID: sessionID}
	var name, profileTags, modelsUsed sql.NullString
	if err := row.Scan(&name, &sess.InputTokens, &sess.OutputTokens, &sess.CostUSD,
		&profileTags, &modelsUsed, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.Name = name.String
	if profileTags.Valid && profileTags.String != "" {
		_ = json.Unmarshal([]byte(profileTags.String), &sess.ProfileTags)
	}
	if modelsUsed.Valid && modelsUsed.String != "" {
		_ = json.Unmarshal([]byte(modelsUsed.String), &sess.ModelsUsed)
	}

	if err := s.loadMessages(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLStore) loadMessages(ctx context.Context, sess *Session) error {
	rows, err := s.db.QueryContext(ctx, Rebind(s.dialect, `
SELECT role, content, rich_json, created_at
FROM session_messages WHERE user_id = ? AND session_id = ?
ORDER BY sequence_num`),
		sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var rich sql.NullString
		if err := rows.Scan(&msg.Role, &msg.Content, &rich, &msg.Timestamp); err != nil {
			return fmt.Errorf("failed to scan message: %w", err)
		}
		if rich.Valid && rich.String != "" {
			_ = json.Unmarshal([]byte(rich.String), &msg.Rich)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	return rows.Err()
}

func (s *SQLStore) loadHistory(ctx context.Context, sess *Session) error {
	rows, err := s.db.QueryContext(ctx, Rebind(s.dialect, `
SELECT turn_json FROM workflow_history
WHERE user_id = ? AND session_id = ?
ORDER BY turn_num`),
		sess.UserID, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load workflow history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("failed to scan turn: %w", err)
		}
		var turn Turn
		if err := json.Unmarshal([]byte(payload), &turn); err != nil {
			return fmt.Errorf("failed to decode turn record: %w", err)
		}
		sess.History = append(sess.History, turn)
	}
	return rows.Err()
}

func (s *SQLStore) List(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, Rebind(s.dialect, `
SELECT session_id FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`),
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLStore) AppendMessage(ctx context.Context, userID, sessionID string, msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clk.Now()
	}
	var richJSON any
	if msg.Rich != nil {
		encoded, err := json.Marshal(msg.Rich)
		if err != nil {
			return fmt.Errorf("failed to encode rich form: %w", err)
		}
		richJSON = string(encoded)
	}

	var seq int
	if err := s.db.QueryRowContext(ctx, Rebind(s.dialect, `
SELECT COALESCE(MAX(sequence_num), 0) + 1 FROM session_messages
WHERE user_id = ? AND session_id = ?`),
		userID, sessionID).Scan(&seq); err != nil {
		return fmt.Errorf("failed to get sequence number: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect, `
INSERT INTO session_messages (user_id, session_id, role, content, rich_json, sequence_num, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		userID, sessionID, msg.Role, msg.Content, richJSON, seq, msg.Timestamp); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return s.touch(ctx, userID, sessionID)
}

func (s *SQLStore) AddTokens(ctx context.Context, userID, sessionID string, input, output int, costUSD float64) error {
	result, err := s.db.ExecContext(ctx, Rebind(s.dialect, `
UPDATE sessions
SET input_tokens = input_tokens + ?, output_tokens = output_tokens + ?, cost_usd = cost_usd + ?, updated_at = ?
WHERE user_id = ? AND session_id = ?`),
		input, output, costUSD, s.clk.Now(), userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to add tokens: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) AppendTurn(ctx context.Context, userID, sessionID string, turn *Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to encode turn: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect, `
INSERT INTO workflow_history (user_id, session_id, turn_id, turn_num, status, is_partial, turn_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		userID, sessionID, turn.TurnID, turn.Number, turn.Status, turn.IsPartial,
		string(payload), s.clk.Now()); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if err := s.appendListColumn(ctx, userID, sessionID, "profile_tags", turn.ProfileTag); err != nil {
		return err
	}
	if err := s.appendListColumn(ctx, userID, sessionID, "models_used", turn.Model); err != nil {
		return err
	}
	return s.touch(ctx, userID, sessionID)
}

// appendListColumn adds value to a JSON-array column if not already present.
func (s *SQLStore) appendListColumn(ctx context.Context, userID, sessionID, column, value string) error {
	if value == "" {
		return nil
	}
	var current sql.NullString
	if err := s.db.QueryRowContext(ctx, Rebind(s.dialect,
		fmt.Sprintf(`SELECT %s FROM sessions WHERE user_id = ? AND session_id = ?`, column)),
		userID, sessionID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to read %s: %w", column, err)
	}

	var list []string
	if current.Valid && current.String != "" {
		_ = json.Unmarshal([]byte(current.String), &list)
	}
	if contains(list, value) {
		return nil
	}
	list = append(list, value)
	encoded, _ := json.Marshal(list)

	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect,
		fmt.Sprintf(`UPDATE sessions SET %s = ? WHERE user_id = ? AND session_id = ?`, column)),
		string(encoded), userID, sessionID); err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return nil
}

func (s *SQLStore) UpdateName(ctx context.Context, userID, sessionID, name string) error {
	result, err := s.db.ExecContext(ctx, Rebind(s.dialect, `
UPDATE sessions SET name = ?, updated_at = ? WHERE user_id = ? AND session_id = ?`),
		name, s.clk.Now(), userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update name: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) touch(ctx context.Context, userID, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, Rebind(s.dialect, `
UPDATE sessions SET updated_at = ? WHERE user_id = ? AND session_id = ?`),
		s.clk.Now(), userID, sessionID); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var _ Store = (*SQLStore)(nil)
