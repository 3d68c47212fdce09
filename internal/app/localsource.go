package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"garminsync/internal/worker"

	"go.uber.org/zap"
)

// LocalSource enumerates previously downloaded activity files for upload.
// Each file's id is its name without extension, so re-uploading a download
// dedups against the same ledger key as the remote path.
type LocalSource struct {
	dir    string
	glob   string
	logger *zap.Logger
}

// List returns tasks for files matching the glob, sorted by name
func (s *LocalSource) List(limit int) ([]worker.Task, error) {
	if _, err := os.Stat(s.dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("upload directory does not exist", zap.String("dir", s.dir))
			return nil, nil
		}
		return nil, fmt.Errorf("stat upload dir: %w", err)
	}

	glob := s.glob
	if glob == "" {
		glob = "*.fit"
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, glob))
	if err != nil {
		return nil, fmt.Errorf("bad upload glob %q: %w", glob, err)
	}
	sort.Strings(paths)

	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}

	tasks := make([]worker.Task, 0, len(paths))
	for _, path := range paths {
		base := filepath.Base(path)
		id := worker.NormalizeID(strings.TrimSuffix(base, filepath.Ext(base)))
		if id == "" {
			s.logger.Debug("skipping file without usable id", zap.String("path", path))
			continue
		}
		tasks = append(tasks, worker.Task{
			ID:        id,
			LocalPath: path,
			Source:    worker.SourceLocal,
		})
	}

	s.logger.Debug("local files selected",
		zap.String("dir", s.dir),
		zap.Int("selected", len(tasks)),
	)
	return tasks, nil
}
