// Package sqlite provides durable implementations of the core repository
// interfaces backed by a single SQLite database. It is the storage backend
// of choice for single-process deployments; use ":memory:" as DSN for tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// database/sql driver registration
	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/sessionmesh/core"
)

// Store owns the database handle and exposes the three repositories as
// views over it. A single handle keeps migrations and teardown in one place.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dsn and runs migrations.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS configs (
			config_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			api_key TEXT,
			prompt TEXT,
			temperature REAL NOT NULL,
			max_tokens INTEGER NOT NULL,
			timeout_ns INTEGER NOT NULL,
			max_retries INTEGER NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_configs_default ON configs(is_default, user_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			config_id TEXT,
			status TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			last_activity DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			usage TEXT,
			created_at DATETIME NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Sessions returns the session repository view.
func (s *Store) Sessions() core.SessionRepository { return &sessionRepo{db: s.db} }

// Messages returns the message repository view.
func (s *Store) Messages() core.MessageRepository { return &messageRepo{db: s.db} }

// Configs returns the config repository view.
func (s *Store) Configs() core.ConfigRepository { return &configRepo{db: s.db} }

type sessionRepo struct{ db *sql.DB }

func (r *sessionRepo) Save(ctx context.Context, sess *core.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, title, user_id, config_id, status, message_count, last_activity, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.UserID, sess.ConfigID, string(sess.Status), sess.MessageCount, sess.LastActivity, sess.Created, sess.Updated)
	if err != nil {
		return &core.StorageError{Op: "session insert", Err: err}
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*core.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT session_id, title, user_id, config_id, status, message_count, last_activity, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, id)
	return scanSession(row)
}

func (r *sessionRepo) Update(ctx context.Context, sess *core.Session) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, user_id = ?, config_id = ?, status = ?, message_count = ?, last_activity = ?, updated_at = ?
		 WHERE session_id = ?`,
		sess.Title, sess.UserID, sess.ConfigID, string(sess.Status), sess.MessageCount, sess.LastActivity, sess.Updated, sess.ID)
	if err != nil {
		return &core.StorageError{Op: "session update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return &core.StorageError{Op: "session delete", Err: err}
	}
	return nil
}

func (r *sessionRepo) Find(ctx context.Context, filter core.SessionFilter) ([]*core.Session, error) {
	query := `SELECT session_id, title, user_id, config_id, status, message_count, last_activity, created_at, updated_at FROM sessions WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		query += ` AND status = ?`
		args = append(args, string(*filter.Status))
	}
	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	query += ` ORDER BY updated_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			query += ` LIMIT -1`
		}
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.StorageError{Op: "session find", Err: err}
	}
	defer rows.Close()

	var res []*core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sess)
	}
	return res, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(row rowScanner) (*core.Session, error) {
	var sess core.Session
	var status string
	var configID sql.NullString
	err := row.Scan(&sess.ID, &sess.Title, &sess.UserID, &configID, &status, &sess.MessageCount, &sess.LastActivity, &sess.Created, &sess.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, &core.StorageError{Op: "session scan", Err: err}
	}
	sess.Status = core.SessionStatus(status)
	sess.ConfigID = configID.String
	return &sess, nil
}

type messageRepo struct{ db *sql.DB }

func (r *messageRepo) Save(ctx context.Context, msg *core.Message) error {
	metadata, usage, err := encodeMessageBlobs(msg)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, metadata, usage, created_at, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, metadata, usage, msg.Created, msg.Deleted)
	if err != nil {
		return &core.StorageError{Op: "message insert", Err: err}
	}
	return nil
}

func (r *messageRepo) SaveBatch(ctx context.Context, msgs []*core.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &core.StorageError{Op: "message batch begin", Err: err}
	}
	for _, msg := range msgs {
		metadata, usage, err := encodeMessageBlobs(msg)
		if err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, session_id, role, content, metadata, usage, created_at, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, string(msg.Role), msg.Content, metadata, usage, msg.Created, msg.Deleted); err != nil {
			tx.Rollback()
			return &core.StorageError{Op: "message batch insert", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &core.StorageError{Op: "message batch commit", Err: err}
	}
	return nil
}

func (r *messageRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]*core.Message, error) {
	// Take the most recent limit rows, then flip back to creation order.
	query := `SELECT message_id, session_id, role, content, metadata, usage, created_at, deleted
		 FROM messages WHERE session_id = ? AND deleted = 0 ORDER BY created_at DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &core.StorageError{Op: "message list", Err: err}
	}
	defer rows.Close()

	var res []*core.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.StorageError{Op: "message list", Err: err}
	}
	for i, j := 0, len(res)-1; i < j; i, j = i+1, j-1 {
		res[i], res[j] = res[j], res[i]
	}
	return res, nil
}

func (r *messageRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND deleted = 0`, sessionID).Scan(&count)
	if err != nil {
		return 0, &core.StorageError{Op: "message count", Err: err}
	}
	return count, nil
}

func (r *messageRepo) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return &core.StorageError{Op: "message delete", Err: err}
	}
	return nil
}

func encodeMessageBlobs(msg *core.Message) (sql.NullString, sql.NullString, error) {
	var metadata, usage sql.NullString
	if len(msg.Metadata) > 0 {
		b, err := json.Marshal(msg.Metadata)
		if err != nil {
			return metadata, usage, &core.StorageError{Op: "message metadata encode", Err: err}
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	if msg.Usage != nil {
		b, err := json.Marshal(msg.Usage)
		if err != nil {
			return metadata, usage, &core.StorageError{Op: "message usage encode", Err: err}
		}
		usage = sql.NullString{String: string(b), Valid: true}
	}
	return metadata, usage, nil
}

func scanMessage(row rowScanner) (*core.Message, error) {
	var msg core.Message
	var role string
	var metadata, usage sql.NullString
	err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadata, &usage, &msg.Created, &msg.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrMessageNotFound
	}
	if err != nil {
		return nil, &core.StorageError{Op: "message scan", Err: err}
	}
	msg.Role = core.Role(role)
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, &core.StorageError{Op: "message metadata decode", Err: err}
		}
	}
	if usage.Valid {
		msg.Usage = &core.TokenUsage{}
		if err := json.Unmarshal([]byte(usage.String), msg.Usage); err != nil {
			return nil, &core.StorageError{Op: "message usage decode", Err: err}
		}
	}
	return &msg, nil
}

type configRepo struct{ db *sql.DB }

func (r *configRepo) Save(ctx context.Context, cfg *core.Config) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO configs (config_id, name, user_id, provider, model, api_key, prompt, temperature, max_tokens, timeout_ns, max_retries, is_default, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.Name, cfg.UserID, cfg.Provider, cfg.Model, cfg.APIKey, cfg.Prompt,
		cfg.Temperature, cfg.MaxTokens, int64(cfg.Timeout), cfg.MaxRetries, cfg.IsDefault, cfg.Created, cfg.Updated)
	if err != nil {
		return &core.StorageError{Op: "config insert", Err: err}
	}
	return nil
}

func (r *configRepo) Get(ctx context.Context, id string) (*core.Config, error) {
	row := r.db.QueryRowContext(ctx, selectConfig+` WHERE config_id = ?`, id)
	return scanConfig(row)
}

func (r *configRepo) Update(ctx context.Context, cfg *core.Config) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE configs SET name = ?, user_id = ?, provider = ?, model = ?, api_key = ?, prompt = ?, temperature = ?, max_tokens = ?, timeout_ns = ?, max_retries = ?, is_default = ?, updated_at = ?
		 WHERE config_id = ?`,
		cfg.Name, cfg.UserID, cfg.Provider, cfg.Model, cfg.APIKey, cfg.Prompt,
		cfg.Temperature, cfg.MaxTokens, int64(cfg.Timeout), cfg.MaxRetries, cfg.IsDefault, cfg.Updated, cfg.ID)
	if err != nil {
		return &core.StorageError{Op: "config update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrConfigNotFound
	}
	return nil
}

func (r *configRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM configs WHERE config_id = ?`, id); err != nil {
		return &core.StorageError{Op: "config delete", Err: err}
	}
	return nil
}

func (r *configRepo) FindUserDefault(ctx context.Context, userID string) (*core.Config, error) {
	if userID == "" {
		return nil, core.ErrConfigNotFound
	}
	row := r.db.QueryRowContext(ctx, selectConfig+` WHERE is_default = 1 AND user_id = ? LIMIT 1`, userID)
	return scanConfig(row)
}

func (r *configRepo) FindSystemDefault(ctx context.Context) (*core.Config, error) {
	row := r.db.QueryRowContext(ctx, selectConfig+` WHERE is_default = 1 AND user_id = '' LIMIT 1`)
	return scanConfig(row)
}

const selectConfig = `SELECT config_id, name, user_id, provider, model, api_key, prompt, temperature, max_tokens, timeout_ns, max_retries, is_default, created_at, updated_at FROM configs`

func scanConfig(row rowScanner) (*core.Config, error) {
	var cfg core.Config
	var apiKey, prompt sql.NullString
	var timeoutNS int64
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.UserID, &cfg.Provider, &cfg.Model, &apiKey, &prompt,
		&cfg.Temperature, &cfg.MaxTokens, &timeoutNS, &cfg.MaxRetries, &cfg.IsDefault, &cfg.Created, &cfg.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrConfigNotFound
	}
	if err != nil {
		return nil, &core.StorageError{Op: "config scan", Err: err}
	}
	cfg.APIKey = apiKey.String
	cfg.Prompt = prompt.String
	cfg.Timeout = time.Duration(timeoutNS)
	return &cfg, nil
}
