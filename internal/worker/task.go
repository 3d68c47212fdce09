package worker

import (
	"context"
	"fmt"
	"strings"
)

// Source says where a record's payload comes from
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Task is one activity record moving through the pipeline
type Task struct {
	ID        string
	Meta      map[string]any
	LocalPath string
	Source    Source
}

// Config contains per-run pipeline configuration
type Config struct {
	Upload      bool
	DryRun      bool
	IgnoreState bool
	DownloadDir string
	FileExt     string
}

// Pipeline stages reported in failure entries
const (
	StageLedger  = "ledger"
	StageFetch   = "fetch"
	StageDecode  = "decode"
	StageConsent = "consent"
	StageUpload  = "upload"
	StageRecord  = "record"
)

// Result reports what happened to a single record
type Result struct {
	ID         string
	Skipped    bool
	Downloaded bool
	Uploaded   bool
	Stage      string
	Err        error
}

// DecodeError indicates a fetched payload could not be normalized into a
// single activity file
type DecodeError struct {
	ActivityID string
	Reason     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.ActivityID, e.Reason)
}

// ArchiveWriter receives a copy of every fetched payload
type ArchiveWriter interface {
	Put(ctx context.Context, id string, payload []byte) error
}

// NormalizeID strips the filename prefix downloads carry so remote ids and
// local file stems compare equal.
func NormalizeID(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "activity_")
}
