package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/radiomirchi/radio-mirchi/internal/mission"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS missions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT '',
	topic              TEXT NOT NULL,
	status             TEXT NOT NULL,
	generation_result  TEXT,
	dialogue_prompt    TEXT NOT NULL DEFAULT '',
	awakened_listeners INTEGER NOT NULL DEFAULT 0,
	error              TEXT NOT NULL DEFAULT '',
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_missions_user_created ON missions(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_missions_created ON missions(created_at);
`

// timeLayout is fixed width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const missionColumns = `id, user_id, topic, status, generation_result, dialogue_prompt, awakened_listeners, error, created_at, updated_at`

// SQLiteStore keeps missions in a local SQLite database
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path and migrates the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := retryOnBusy(ctx, func() error {
		_, err := db.ExecContext(ctx, sqliteSchema)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

// Path returns the database file path
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *SQLiteStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Create inserts a new mission
func (s *SQLiteStore) Create(ctx context.Context, m *mission.Mission) error {
	if err := validateMission(m); err != nil {
		return err
	}
	result, err := encodeResult(m.GenerationResult)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx,
		`INSERT INTO missions (`+missionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Topic, string(m.Status), result, m.DialoguePrompt,
		m.AwakenedListeners, m.Error, formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrExists, m.ID)
		}
		return fmt.Errorf("insert mission: %w", err)
	}
	return nil
}

// Get loads one mission
func (s *SQLiteStore) Get(ctx context.Context, id string) (*mission.Mission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

// Update replaces every mutable field of an existing mission
func (s *SQLiteStore) Update(ctx context.Context, m *mission.Mission) error {
	if err := validateMission(m); err != nil {
		return err
	}
	result, err := encodeResult(m.GenerationResult)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx,
		`UPDATE missions SET user_id = ?, topic = ?, status = ?, generation_result = ?, dialogue_prompt = ?,
			awakened_listeners = ?, error = ?, updated_at = ? WHERE id = ?`,
		m.UserID, m.Topic, string(m.Status), result, m.DialoguePrompt,
		m.AwakenedListeners, m.Error, formatTime(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, m.ID)
	}
	return nil
}

// List returns missions newest first
func (s *SQLiteStore) List(ctx context.Context, userID string, limit int) ([]*mission.Mission, error) {
	limit = normalizeLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if userID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+missionColumns+` FROM missions ORDER BY created_at DESC, id LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+missionColumns+` FROM missions WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*mission.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(r rowScanner) (*mission.Mission, error) {
	var (
		m        mission.Mission
		status   string
		result   sql.NullString
		created  string
		updated  string
		awakened int64
	)
	if err := r.Scan(&m.ID, &m.UserID, &m.Topic, &status, &result, &m.DialoguePrompt,
		&awakened, &m.Error, &created, &updated); err != nil {
		return nil, err
	}
	m.Status = mission.Status(status)
	m.AwakenedListeners = int(awakened)

	if result.Valid && result.String != "" {
		var g mission.GenerationResult
		if err := json.Unmarshal([]byte(result.String), &g); err != nil {
			return nil, fmt.Errorf("decode generation result: %w", err)
		}
		m.GenerationResult = &g
	}

	var err error
	if m.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeResult(g *mission.GenerationResult) (sql.NullString, error) {
	if g == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(g)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode generation result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
