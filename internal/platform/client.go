package platform

import (
	"context"
	"fmt"
)

// UploadStatus reports what an upload achieved
type UploadStatus string

const (
	// StatusUploaded means the destination accepted a new activity
	StatusUploaded UploadStatus = "uploaded"
	// StatusDuplicate means the destination already had the activity. This is
	// a success for ledger purposes.
	StatusDuplicate UploadStatus = "already_uploaded"
)

// Client is the platform API surface one side of a sync run talks to
type Client interface {
	// ListActivities fetches recent activity metadata, forcing the page-size
	// parameter up to at least minPageSize.
	ListActivities(ctx context.Context, minPageSize int) ([]map[string]any, error)

	// DownloadActivity fetches the raw export bytes of one activity.
	DownloadActivity(ctx context.Context, id string) ([]byte, error)

	// UploadActivity pushes one activity file to the destination.
	UploadActivity(ctx context.Context, id string, payload []byte) (UploadStatus, error)

	// Consent performs the upload consent handshake. A region without a
	// consent endpoint treats this as a no-op.
	Consent(ctx context.Context) error
}

// FetchError indicates a failure talking to the origin platform. A list
// failure aborts the run; a download failure fails only its record.
type FetchError struct {
	Op  string // "list" or "download"
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// UploadError indicates the destination rejected an upload
type UploadError struct {
	ActivityID string
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.ActivityID, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ConsentError indicates the upload consent handshake failed. No upload is
// attempted after it.
type ConsentError struct {
	Err error
}

func (e *ConsentError) Error() string {
	return fmt.Sprintf("upload consent: %v", e.Err)
}

func (e *ConsentError) Unwrap() error {
	return e.Err
}
