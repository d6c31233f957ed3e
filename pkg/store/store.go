package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/linkstorm/linkstorm/pkg/discovery"
	"github.com/linkstorm/linkstorm/pkg/download"
	"github.com/linkstorm/linkstorm/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	url TEXT NOT NULL,
	file_name TEXT NOT NULL,
	dest_path TEXT NOT NULL,
	total_size INTEGER NOT NULL,
	transferred INTEGER NOT NULL,
	errors INTEGER NOT NULL,
	status TEXT NOT NULL,
	strategy TEXT,
	last_error TEXT,
	started_at INTEGER,
	ended_at INTEGER,
	FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS transfers_session ON transfers(session_id);

CREATE TABLE IF NOT EXISTS pages (
	url TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
`

// Store keeps transfer history and cached pages in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ discovery.PageCache = &Store{}

// Open opens or creates the database at path, creating its directory if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time, sqlite would answer SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database to release file handles on shutdown.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx wraps a unit of work in a transaction and handles rollback/commit.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	logger := logging.GetLogger()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Debug().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Record stores the final state of a transfer under session.
func (s *Store) Record(ctx context.Context, session string, snap download.Snapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, started_at) VALUES (?, ?)`,
			session, unixNano(snap.Start)); err != nil {
			return fmt.Errorf("failed to record session: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transfers (id, session_id, url, file_name, dest_path, total_size, transferred, errors,
				status, strategy, last_error, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				transferred = excluded.transferred,
				total_size = excluded.total_size,
				errors = excluded.errors,
				status = excluded.status,
				strategy = excluded.strategy,
				last_error = excluded.last_error,
				started_at = excluded.started_at,
				ended_at = excluded.ended_at`,
			snap.ID, session, snap.URL, snap.FileName, snap.Dest, snap.Total, snap.Bytes, snap.Errors,
			string(snap.Status), string(snap.Strategy), snap.LastError, unixNano(snap.Start), unixNano(snap.End))
		if err != nil {
			return fmt.Errorf("failed to record transfer: %w", err)
		}
		return nil
	})
}

// Record is a stored transfer.
type Record struct {
	Session string
	download.Snapshot
}

type Query struct {
	// Session limits the result to one session, empty means all.
	Session string
	// Limit caps the number of records, zero or less means no limit.
	Limit int
}

// Transfers returns stored transfers, most recently finished first.
func (s *Store) Transfers(ctx context.Context, q Query) ([]Record, error) {
	query := `SELECT session_id, id, url, file_name, dest_path, total_size, transferred, errors, status,
		strategy, last_error, started_at, ended_at FROM transfers`
	var args []any
	if q.Session != "" {
		query += ` WHERE session_id = ?`
		args = append(args, q.Session)
	}
	query += ` ORDER BY ended_at DESC, file_name`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                  Record
			status, strategy   sql.NullString
			lastError          sql.NullString
			startedAt, endedAt sql.NullInt64
		)
		if err := rows.Scan(&r.Session, &r.ID, &r.URL, &r.FileName, &r.Dest, &r.Total, &r.Bytes, &r.Errors,
			&status, &strategy, &lastError, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		r.Status = download.Status(status.String)
		r.Strategy = download.Strategy(strategy.String)
		r.LastError = lastError.String
		r.Start = fromUnixNano(startedAt.Int64)
		r.End = fromUnixNano(endedAt.Int64)
		records = append(records, r)
	}
	return records, rows.Err()
}

// LatestSession returns the id of the most recently started session, or "" when there is none.
func (s *Store) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sessions ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query sessions: %w", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, pageURL string) (string, bool, error) {
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM pages WHERE url = ?`, pageURL).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query page cache: %w", err)
	}
	return content, true, nil
}

func (s *Store) Put(ctx context.Context, pageURL, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (url, content, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET content = excluded.content, fetched_at = excluded.fetched_at`,
		pageURL, content, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to cache page: %w", err)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
