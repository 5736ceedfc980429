package cache

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS thread_messages (
	ticket_id  TEXT NOT NULL,
	message_id TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (ticket_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_thread_messages_order
	ON thread_messages (ticket_id, created_at);

CREATE TABLE IF NOT EXISTS upload_blobs (
	staging_id TEXT PRIMARY KEY,
	ticket_id  TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	mime_type  TEXT,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store is the durable mirror of conversation threads, keyed by ticket id.
// It is never the source of truth while a thread is live; every operation
// failure is recoverable by the caller.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Store{db: conn, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
