package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists items as rows, turning the per-mutation cost
// from a full snapshot rewrite into a single upsert. Drop-in
// replacement for FileStore when queues run deep.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	sequence     INTEGER NOT NULL,
	target       TEXT NOT NULL,
	command      TEXT NOT NULL,
	status       TEXT NOT NULL,
	enqueued_at  TEXT NOT NULL,
	started_at   TEXT,
	completed_at TEXT,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS items_sequence ON items(sequence);
`

// OpenSQLiteStore opens (or creates) the queue database at dir/queue.db.
func OpenSQLiteStore(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	path := filepath.Join(dir, "queue.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load() ([]*Item, error) {
	rows, err := s.db.Query(`
SELECT id, sequence, target, command, status, enqueued_at, started_at, completed_at, result, error
FROM items ORDER BY sequence`)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	defer rows.Close()
	var items []*Item
	for rows.Next() {
		var item Item
		var enqueued string
		var started, completed sql.NullString
		if err := rows.Scan(&item.ID, &item.Sequence, &item.Target, &item.Command, &item.Status,
			&enqueued, &started, &completed, &item.Result, &item.Error); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if item.EnqueuedAt, err = parseTS(enqueued); err != nil {
			return nil, err
		}
		if item.StartedAt, err = parseNullTS(started); err != nil {
			return nil, err
		}
		if item.CompletedAt, err = parseNullTS(completed); err != nil {
			return nil, err
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) Put(item *Item) error {
	_, err := s.db.Exec(`
INSERT INTO items(id, sequence, target, command, status, enqueued_at, started_at, completed_at, result, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status=excluded.status,
	started_at=excluded.started_at,
	completed_at=excluded.completed_at,
	result=excluded.result,
	error=excluded.error
`, item.ID, item.Sequence, item.Target, item.Command, string(item.Status),
		formatTS(item.EnqueuedAt), formatNullTS(item.StartedAt), formatNullTS(item.CompletedAt),
		item.Result, item.Error)
	if err != nil {
		return fmt.Errorf("persist queue item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTS(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func formatNullTS(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTS(*t)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse queue timestamp: %w", err)
	}
	return t, nil
}

func parseNullTS(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTS(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
