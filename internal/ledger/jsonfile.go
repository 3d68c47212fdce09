package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JSONStore keeps the ledger in a single JSON file and rewrites it atomically
// on every mutation. A missing file is an empty ledger; a corrupt one is
// logged and treated as empty, destination duplicate detection self-heals the
// entries it lost.
type JSONStore struct {
	path    string
	logger  *zap.Logger
	mu      sync.Mutex
	entries map[string]Entry
}

// jsonState is the on-disk shape. Membership lives in uploaded_ids; results
// carries per-id timestamps and metadata.
type jsonState struct {
	UploadedIDs []string                     `json:"uploaded_ids"`
	Results     map[string]map[string]string `json:"results,omitempty"`
}

// NewJSONStore opens or creates a JSON file ledger
func NewJSONStore(path string, logger *zap.Logger) (*JSONStore, error) {
	s := &JSONStore{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var state jsonState
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("ledger file is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return nil
	}

	for _, id := range state.UploadedIDs {
		if id == "" {
			continue
		}
		entry := Entry{ActivityID: id}
		if result, ok := state.Results[id]; ok {
			for k, v := range result {
				if k == "timestamp" {
					if ts, err := time.Parse(time.RFC3339, v); err == nil {
						entry.UploadedAt = ts
						continue
					}
				}
				if entry.Meta == nil {
					entry.Meta = make(map[string]string)
				}
				entry.Meta[k] = v
			}
		}
		s.entries[id] = entry
	}
	return nil
}

// Contains reports whether the activity was already uploaded
func (s *JSONStore) Contains(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok, nil
}

// Record upserts one entry and flushes the whole file before returning
func (s *JSONStore) Record(entry Entry) error {
	if entry.ActivityID == "" {
		return fmt.Errorf("ledger entry needs an activity id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ActivityID] = entry
	return s.flush()
}

// flush writes a temp file and renames it into place so a crash can never
// leave a half-written ledger. Caller holds mu.
func (s *JSONStore) flush() error {
	state := jsonState{
		UploadedIDs: make([]string, 0, len(s.entries)),
		Results:     make(map[string]map[string]string, len(s.entries)),
	}
	for id, entry := range s.entries {
		state.UploadedIDs = append(state.UploadedIDs, id)

		result := make(map[string]string, len(entry.Meta)+1)
		if !entry.UploadedAt.IsZero() {
			result["timestamp"] = entry.UploadedAt.UTC().Format(time.RFC3339)
		}
		for k, v := range entry.Meta {
			result[k] = v
		}
		if len(result) > 0 {
			state.Results[id] = result
		}
	}
	sort.Strings(state.UploadedIDs)
	if len(state.Results) == 0 {
		state.Results = nil
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Len returns the number of recorded activities
func (s *JSONStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Entries returns a copy of all recorded entries
func (s *JSONStore) Entries() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Entry, len(s.entries))
	for id, entry := range s.entries {
		out[id] = entry
	}
	return out, nil
}

// Close is a no-op, every Record already flushed
func (s *JSONStore) Close() error {
	return nil
}
