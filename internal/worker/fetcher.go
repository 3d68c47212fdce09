package worker

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"garminsync/internal/metrics"
	"garminsync/internal/platform"

	"go.uber.org/zap"
)

// Fetcher obtains the canonical payload bytes for one record: downloaded from
// the origin for remote tasks, read from disk for local ones, and unwrapped
// when the platform served a zip archive.
type Fetcher struct {
	client  platform.Client
	archive ArchiveWriter
	config  Config
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewFetcher creates a fetcher. client may be nil for local-only runs;
// archiveWriter may be nil when mirroring is disabled.
func NewFetcher(client platform.Client, archiveWriter ArchiveWriter, cfg Config, metricsCollector *metrics.Collector, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		archive: archiveWriter,
		config:  cfg,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Fetch returns the normalized payload for a task
func (f *Fetcher) Fetch(ctx context.Context, task Task) ([]byte, error) {
	var raw []byte
	var err error

	if task.Source == SourceLocal {
		raw, err = os.ReadFile(task.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", task.LocalPath, err)
		}
	} else {
		raw, err = f.client.DownloadActivity(ctx, task.ID)
		if err != nil {
			return nil, err
		}
	}

	payload := raw
	if isZipPayload(raw) {
		payload, err = extractFromArchive(task.ID, raw, f.config.FileExt)
		if err != nil {
			return nil, err
		}
		f.logger.Debug("unwrapped archive payload",
			zap.String("activity_id", task.ID),
			zap.Int("archive_bytes", len(raw)),
			zap.Int("payload_bytes", len(payload)),
		)
	}

	if task.Source == SourceRemote {
		if f.config.DownloadDir != "" {
			if err := f.saveDownload(task.ID, payload); err != nil {
				return nil, err
			}
		}
		if f.archive != nil {
			if err := f.archive.Put(ctx, task.ID, payload); err != nil {
				f.metrics.IncMirrorFailed()
				f.logger.Warn("archive mirror failed",
					zap.String("activity_id", task.ID),
					zap.Error(err),
				)
			}
		}
	}

	return payload, nil
}

// saveDownload keeps a local copy of the canonical payload. Downloads are
// written even in dry-run mode, only uploads are suppressed.
func (f *Fetcher) saveDownload(id string, payload []byte) error {
	if err := os.MkdirAll(f.config.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(f.config.DownloadDir, fmt.Sprintf("activity_%s%s", id, f.config.FileExt))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("save download: %w", err)
	}
	f.logger.Debug("saved download", zap.String("path", path))
	return nil
}

func isZipPayload(b []byte) bool {
	return len(b) >= 2 && b[0] == 'P' && b[1] == 'K'
}

// extractFromArchive unwraps a zip payload. The archive must contain exactly
// one entry with the target extension; anything else is a decode failure
// rather than a silent guess.
func extractFromArchive(id string, raw []byte, ext string) ([]byte, error) {
	if ext == "" {
		ext = ".fit"
	}

	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, &DecodeError{ActivityID: id, Reason: fmt.Sprintf("malformed archive: %v", err)}
	}

	var match *zip.File
	matches := 0
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(zf.Name), ext) {
			matches++
			match = zf
		}
	}

	if matches == 0 {
		return nil, &DecodeError{ActivityID: id, Reason: fmt.Sprintf("archive has no %s entry", ext)}
	}
	if matches > 1 {
		return nil, &DecodeError{ActivityID: id, Reason: fmt.Sprintf("archive has %d %s entries, expected one", matches, ext)}
	}

	rc, err := match.Open()
	if err != nil {
		return nil, &DecodeError{ActivityID: id, Reason: fmt.Sprintf("open %s: %v", match.Name, err)}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &DecodeError{ActivityID: id, Reason: fmt.Sprintf("read %s: %v", match.Name, err)}
	}
	return data, nil
}
