package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Entry is one confirmed upload in the dedup ledger
type Entry struct {
	ActivityID string            `json:"activity_id"`
	UploadedAt time.Time         `json:"uploaded_at"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Store is the dedup ledger consulted before uploads and updated after each
// confirmed one. Record must be durable before it returns and is an
// idempotent upsert: re-recording an id refreshes its metadata without
// growing the key count.
type Store interface {
	Contains(id string) (bool, error)
	Record(entry Entry) error
	Len() (int, error)
	Entries() (map[string]Entry, error)
	Close() error
}

// Open picks a backend from the path extension: .db/.sqlite/.sqlite3 get
// SQLite, everything else the JSON file store.
func Open(path string, logger *zap.Logger) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger dir: %w", err)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLiteStore(path)
	default:
		return NewJSONStore(path, logger)
	}
}
