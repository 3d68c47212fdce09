package worker

import (
	"context"

	"garminsync/internal/platform"

	"go.uber.org/zap"
)

// Uploader pushes payloads to the destination. The consent handshake runs
// before the first upload of a run and is never repeated.
type Uploader struct {
	client    platform.Client
	logger    *zap.Logger
	consented bool
}

// NewUploader creates an uploader for the destination side
func NewUploader(client platform.Client, logger *zap.Logger) *Uploader {
	return &Uploader{
		client: client,
		logger: logger,
	}
}

// Upload pushes one payload, establishing consent first when needed
func (u *Uploader) Upload(ctx context.Context, id string, payload []byte) (platform.UploadStatus, error) {
	if !u.consented {
		if err := u.client.Consent(ctx); err != nil {
			return "", err
		}
		u.consented = true
		u.logger.Debug("upload consent established")
	}

	return u.client.UploadActivity(ctx, id, payload)
}
