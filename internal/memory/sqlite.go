package memory

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	db   *sql.DB
	opts options
}

func newSQLiteStore(ctx context.Context, path string, o options) (*sqliteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite memory url needs a database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS turns (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			actor   TEXT NOT NULL,
			message TEXT NOT NULL,
			at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session, id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return &sqliteStore{db: db, opts: o}, nil
}

func (s *sqliteStore) Session(_ context.Context, id string) (Session, error) {
	if err := validSessionID(id); err != nil {
		return nil, err
	}
	return &sqliteSession{store: s, id: id}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type sqliteSession struct {
	store *sqliteStore
	id    string
}

func (s *sqliteSession) Append(ctx context.Context, actor, message string) error {
	at := s.store.opts.now().UTC().Format(time.RFC3339Nano)
	_, err := s.store.db.ExecContext(ctx,
		`INSERT INTO turns (session, actor, message, at) VALUES (?, ?, ?, ?)`,
		s.id, actor, message, at)
	if err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	return nil
}

func (s *sqliteSession) ReadAll(ctx context.Context) ([]Turn, error) {
	rows, err := s.store.db.QueryContext(ctx,
		`SELECT actor, message, at FROM turns WHERE session = ? ORDER BY id`, s.id)
	if err != nil {
		return nil, fmt.Errorf("memory: read: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var at string
		if err := rows.Scan(&t.Actor, &t.Message, &at); err != nil {
			return nil, fmt.Errorf("memory: scan: %w", err)
		}
		if t.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("memory: bad timestamp %q: %w", at, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
