package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

// Cursor is the last event id a watcher dispatched.
type Cursor struct {
	Name      string
	EventID   int64
	UpdatedAt time.Time
}

// CursorStore records watcher cursors. The rows are informational: a
// watcher always starts from the newest event regardless of what is stored.
type CursorStore struct {
	db *sql.DB
}

var _ watcher.CheckpointStore = CursorStore{}

func (s CursorStore) SetCursor(ctx context.Context, name string, eventID int64, updatedAt time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("cursor name is required")
	}
	if eventID < 0 {
		return fmt.Errorf("cursor %q: event id must not be negative", name)
	}
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO watch_cursors (name, event_id, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET event_id = excluded.event_id, updated_at = excluded.updated_at`,
		name,
		eventID,
		updatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("upsert watch cursor %q: %w", name, err)
	}
	return nil
}

func (s CursorStore) GetCursor(ctx context.Context, name string) (Cursor, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Cursor{}, false, fmt.Errorf("cursor name is required")
	}

	var (
		c         = Cursor{Name: name}
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT event_id, updated_at FROM watch_cursors WHERE name = ?`, name).
		Scan(&c.EventID, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("query watch cursor %q: %w", name, err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Cursor{}, false, fmt.Errorf("parse watch cursor %q timestamp: %w", name, err)
	}
	return c, true, nil
}

// ListCursors returns every stored cursor ordered by name.
func (s CursorStore) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, event_id, updated_at FROM watch_cursors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list watch cursors: %w", err)
	}
	defer rows.Close()

	out := make([]Cursor, 0)
	for rows.Next() {
		var (
			c         Cursor
			updatedAt string
		)
		if err := rows.Scan(&c.Name, &c.EventID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan watch cursor row: %w", err)
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse watch cursor %q timestamp: %w", c.Name, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch cursor rows: %w", err)
	}
	return out, nil
}

func (s CursorStore) DeleteCursor(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM watch_cursors WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete watch cursor %q: %w", name, err)
	}
	return nil
}

func ensureCursorSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS watch_cursors (
	name TEXT PRIMARY KEY,
	event_id INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("initialize watch cursor schema: %w", err)
	}
	return nil
}
