package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	memory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
	if !memory {
		dsn = withFileParams(dsn)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// withFileParams adds WAL, busy timeout and immediate write locks to a file DSN.
func withFileParams(dsn string) string {
	params := []string{"_journal_mode=WAL", "_busy_timeout=5000", "_txlock=immediate"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")]
		if !strings.Contains(dsn, key) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	return dsn + sep + strings.Join(missing, "&")
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			room_id TEXT PRIMARY KEY,
			head_offset INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			degraded INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			room_id TEXT NOT NULL,
			event_offset INTEGER NOT NULL,
			author TEXT NOT NULL,
			payload TEXT NOT NULL,
			client_msg_id TEXT,
			enqueued_at INTEGER NOT NULL,
			PRIMARY KEY (room_id, event_offset),
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_client_msg ON events(room_id, client_msg_id, enqueued_at)`,
		`CREATE TABLE IF NOT EXISTS consumer_offsets (
			room_id TEXT PRIMARY KEY,
			last_claimed INTEGER NOT NULL DEFAULT 0,
			last_acked INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER,
			first_failed_at INTEGER,
			updated_at INTEGER NOT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			room_id TEXT PRIMARY KEY,
			last_committed_offset INTEGER NOT NULL,
			session_state TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			decision_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			title TEXT NOT NULL,
			options TEXT NOT NULL,
			quorum_threshold INTEGER NOT NULL,
			deadline INTEGER NOT NULL,
			status TEXT NOT NULL,
			tie_break_policy TEXT NOT NULL,
			winner INTEGER,
			resolved_by TEXT,
			created_at INTEGER NOT NULL,
			closed_at INTEGER,
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_room ON decisions(room_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS votes (
			decision_id TEXT NOT NULL,
			voter_id TEXT NOT NULL,
			choice INTEGER NOT NULL,
			cast_at INTEGER NOT NULL,
			PRIMARY KEY (decision_id, voter_id),
			FOREIGN KEY (decision_id) REFERENCES decisions(decision_id)
		)`,
		`CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id TEXT NOT NULL,
			event_offset INTEGER NOT NULL,
			author TEXT NOT NULL,
			payload TEXT NOT NULL,
			failure_reason TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			first_failed_at INTEGER NOT NULL,
			replayed_at INTEGER,
			UNIQUE (room_id, event_offset),
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_open ON dead_letters(replayed_at, room_id)`,
		`CREATE TABLE IF NOT EXISTS room_timers (
			room_id TEXT PRIMARY KEY,
			due_at INTEGER NOT NULL,
			FOREIGN KEY (room_id) REFERENCES rooms(room_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_room_timers_due ON room_timers(due_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func millisPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
