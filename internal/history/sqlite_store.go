package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultListLimit = 20

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure history dir: %w", err)
		}
	}
	// Busy timeout to avoid SQLITE_BUSY when the CLI and the web server share a database.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		image_size INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error_message TEXT,
		result_size INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS attempts_started_at ON attempts (started_at);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, a Attempt) error {
	if a.ID == "" {
		return errors.New("attempt.ID is required")
	}
	if a.Outcome == "" {
		return errors.New("attempt.Outcome is required")
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now().UTC()
	}
	if a.CompletedAt.IsZero() {
		a.CompletedAt = a.StartedAt
	}
	var errMsg *string
	if a.Error != "" {
		errMsg = &a.Error
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, filename, content_type, image_size, outcome, error_message, result_size, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Filename, a.ContentType, a.ImageSize, a.Outcome, errMsg, a.ResultSize,
		a.StartedAt.UTC().Format(time.RFC3339Nano), a.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// List returns the most recent attempts first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, content_type, image_size, outcome, error_message,
		result_size, started_at, completed_at
		FROM attempts ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var errMsg sql.NullString
		var started, completed string
		if err := rows.Scan(
			&a.ID,
			&a.Filename,
			&a.ContentType,
			&a.ImageSize,
			&a.Outcome,
			&errMsg,
			&a.ResultSize,
			&started,
			&completed,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			a.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completed); err == nil {
			a.CompletedAt = t
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
