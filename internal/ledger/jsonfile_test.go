package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJSONStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "uploaded.json"), zap.NewNop())
	require.NoError(t, err)

	n, err := store.Len()
	require.NoError(t, err)
	require.Zero(t, n)

	seen, err := store.Contains("123")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestJSONStoreRecordIsDurable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploaded.json")
	store, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)

	uploadedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, store.Record(Entry{
		ActivityID: "123",
		UploadedAt: uploadedAt,
		Meta:       map[string]string{"status": "uploaded", "run_id": "r1"},
	}))

	// The file must be fully written before Record returns
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var state struct {
		UploadedIDs []string                     `json:"uploaded_ids"`
		Results     map[string]map[string]string `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &state))
	require.Equal(t, []string{"123"}, state.UploadedIDs)
	require.Equal(t, "uploaded", state.Results["123"]["status"])
	require.Equal(t, "2026-03-14T09:26:53Z", state.Results["123"]["timestamp"])

	// A fresh store reads the same entries back
	reopened, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)
	seen, err := reopened.Contains("123")
	require.NoError(t, err)
	require.True(t, seen)

	entries, err := reopened.Entries()
	require.NoError(t, err)
	require.Equal(t, uploadedAt, entries["123"].UploadedAt)
	require.Equal(t, "r1", entries["123"].Meta["run_id"])
}

func TestJSONStoreRecordIsIdempotent(t *testing.T) {
	store, err := NewJSONStore(filepath.Join(t.TempDir(), "uploaded.json"), zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Record(Entry{ActivityID: "9", Meta: map[string]string{"run_id": "r1"}}))
	require.NoError(t, store.Record(Entry{ActivityID: "9", Meta: map[string]string{"run_id": "r2"}}))

	n, err := store.Len()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries, err := store.Entries()
	require.NoError(t, err)
	require.Equal(t, "r2", entries["9"].Meta["run_id"])
}

func TestJSONStoreCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploaded.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)

	n, err := store.Len()
	require.NoError(t, err)
	require.Zero(t, n)

	// Recording over the corrupt file replaces it with valid state
	require.NoError(t, store.Record(Entry{ActivityID: "1"}))
	reopened, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)
	seen, err := reopened.Contains("1")
	require.NoError(t, err)
	require.True(t, seen)
}

func TestJSONStoreReadsLegacyState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploaded.json")
	legacy := `{
  "uploaded_ids": ["201", "202"],
  "results": {
    "201": {"status": "already_uploaded", "timestamp": "2025-11-02T08:00:00Z"}
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	store, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)

	for _, id := range []string{"201", "202"} {
		seen, err := store.Contains(id)
		require.NoError(t, err)
		require.True(t, seen, id)
	}

	entries, err := store.Entries()
	require.NoError(t, err)
	require.Equal(t, "already_uploaded", entries["201"].Meta["status"])
	require.Equal(t, 2025, entries["201"].UploadedAt.Year())
	require.True(t, entries["202"].UploadedAt.IsZero())
}

func TestJSONStoreCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "uploaded.json")
	store, err := NewJSONStore(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Record(Entry{ActivityID: "5"}))
	_, err = os.Stat(path)
	require.NoError(t, err)
}
