package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"conduit/internal/domain"
)

// SQLiteStorage persists sessions in a SQLite database.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		key         TEXT PRIMARY KEY,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		metadata    TEXT
	);

	CREATE TABLE IF NOT EXISTS session_messages (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		session_key  TEXT NOT NULL REFERENCES sessions(key) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		role         TEXT NOT NULL,
		content      TEXT,
		tool_calls   TEXT,
		tool_call_id TEXT,
		tool_name    TEXT,
		media        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_session_messages_key ON session_messages(session_key, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Load(ctx context.Context, key string) (*Snapshot, error) {
	var created, updated int64
	var meta sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at, metadata FROM sessions WHERE key = ?`, key,
	).Scan(&created, &updated, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Key:       key,
		CreatedAt: time.Unix(0, created),
		UpdatedAt: time.Unix(0, updated),
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &snap.Metadata); err != nil {
			s.logger.Warn("ignoring malformed session metadata", "session", key, "err", err)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, tool_name, media
		 FROM session_messages WHERE session_key = ? ORDER BY seq ASC`, key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg                                     domain.Message
			content, calls, callID, toolName, media sql.NullString
		)
		if err := rows.Scan(&msg.Role, &content, &calls, &callID, &toolName, &media); err != nil {
			return nil, err
		}
		msg.Content = content.String
		msg.ToolCallID = callID.String
		msg.ToolName = toolName.String
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if media.Valid && media.String != "" {
			if err := json.Unmarshal([]byte(media.String), &msg.Media); err != nil {
				return nil, fmt.Errorf("decode media: %w", err)
			}
		}
		snap.Messages = append(snap.Messages, msg)
	}
	return snap, rows.Err()
}

// Save replaces the session row and its messages in one transaction.
func (s *SQLiteStorage) Save(ctx context.Context, snap Snapshot) error {
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now()
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = now
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (key, created_at, updated_at, metadata) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at, metadata = excluded.metadata`,
		snap.Key, snap.CreatedAt.UnixNano(), snap.UpdatedAt.UnixNano(), string(meta),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_key = ?`, snap.Key); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_messages (session_key, seq, role, content, tool_calls, tool_call_id, tool_name, media)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range snap.Messages {
		var calls, media sql.NullString
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = sql.NullString{String: string(data), Valid: true}
		}
		if len(msg.Media) > 0 {
			data, err := json.Marshal(msg.Media)
			if err != nil {
				return fmt.Errorf("encode media: %w", err)
			}
			media = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, snap.Key, i, msg.Role, msg.Content, calls, msg.ToolCallID, msg.ToolName, media); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_messages WHERE session_key = ?`, key); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.key, s.updated_at, COUNT(m.id)
		 FROM sessions s LEFT JOIN session_messages m ON m.session_key = s.key
		 GROUP BY s.key ORDER BY s.updated_at DESC, s.key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var updated int64
		if err := rows.Scan(&sum.Key, &updated, &sum.MessageCount); err != nil {
			return nil, err
		}
		sum.UpdatedAt = time.Unix(0, updated)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
