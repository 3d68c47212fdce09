package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore creates a new SQLite ledger store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=2000&_foreign_keys=on&_busy_timeout=60000", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS uploads (
		activity_id TEXT PRIMARY KEY,
		uploaded_at DATETIME NOT NULL,
		meta TEXT,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_uploaded_at ON uploads(uploaded_at);
	`

	_, err := s.db.Exec(query)
	return err
}

// Contains reports whether the activity was already uploaded
func (s *SQLiteStore) Contains(id string) (bool, error) {
	if s.closed {
		return false, fmt.Errorf("ledger store is closed")
	}

	var found bool
	err := s.retryOnBusy(func() error {
		var one int
		err := s.db.QueryRow(`SELECT 1 FROM uploads WHERE activity_id = ?`, id).Scan(&one)
		if err == sql.ErrNoRows {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Record upserts one entry inside a committed transaction
func (s *SQLiteStore) Record(entry Entry) error {
	if s.closed {
		return fmt.Errorf("ledger store is closed")
	}
	if entry.ActivityID == "" {
		return fmt.Errorf("ledger entry needs an activity id")
	}

	// Serialize writes to avoid SQLITE_BUSY from concurrent runs
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.recordWithTransaction(entry)
	})
}

func (s *SQLiteStore) recordWithTransaction(entry Entry) error {
	var meta sql.NullString
	if len(entry.Meta) > 0 {
		data, err := json.Marshal(entry.Meta)
		if err != nil {
			return fmt.Errorf("failed to encode meta: %w", err)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}

	uploadedAt := entry.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	// Use UPSERT instead of DELETE+INSERT to keep lock contention low
	query := `
	INSERT INTO uploads (activity_id, uploaded_at, meta, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(activity_id) DO UPDATE SET
		uploaded_at = excluded.uploaded_at,
		meta = excluded.meta,
		updated_at = excluded.updated_at
	`

	if _, err := tx.Exec(query, entry.ActivityID, uploadedAt, meta, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to execute insert: %w", err)
	}

	return tx.Commit()
}

// Len returns the number of recorded activities
func (s *SQLiteStore) Len() (int, error) {
	if s.closed {
		return 0, fmt.Errorf("ledger store is closed")
	}

	var n int
	err := s.retryOnBusy(func() error {
		return s.db.QueryRow(`SELECT COUNT(*) FROM uploads`).Scan(&n)
	})
	return n, err
}

// Entries returns all recorded entries
func (s *SQLiteStore) Entries() (map[string]Entry, error) {
	if s.closed {
		return nil, fmt.Errorf("ledger store is closed")
	}

	rows, err := s.db.Query(`SELECT activity_id, uploaded_at, meta FROM uploads`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var entry Entry
		var meta sql.NullString

		if err := rows.Scan(&entry.ActivityID, &entry.UploadedAt, &meta); err != nil {
			return nil, err
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &entry.Meta); err != nil {
				return nil, fmt.Errorf("failed to decode meta for %s: %w", entry.ActivityID, err)
			}
		}
		out[entry.ActivityID] = entry
	}
	return out, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) {
			if attempt < maxRetries-1 {
				// Exponential backoff with jitter
				delay := baseDelay * time.Duration(1<<uint(attempt))
				jitter := time.Duration(attempt*10) * time.Millisecond
				time.Sleep(delay + jitter)
				continue
			}
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.closed = true
	return s.db.Close()
}
