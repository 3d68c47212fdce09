package app

import (
	"context"
	"fmt"
	"time"

	"garminsync/internal/archive"
	"garminsync/internal/auth"
	"garminsync/internal/config"
	"garminsync/internal/ledger"
	"garminsync/internal/metrics"
	"garminsync/internal/platform"
	"garminsync/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// credentialSource acquires one session per side per run
type credentialSource interface {
	Acquire(ctx context.Context, side string, region config.Region) (*auth.Session, error)
}

// clientFactory builds a platform client for one side once its session exists
type clientFactory func(region config.Region, sess *auth.Session) platform.Client

// Syncer represents the main sync application
type Syncer struct {
	cfg       *config.Config
	logger    *zap.Logger
	ledger    ledger.Store
	metrics   *metrics.Collector
	creds     credentialSource
	newClient clientFactory
	archive   worker.ArchiveWriter
	runID     string
}

// New creates a new syncer instance
func New(cfg *config.Config, logger *zap.Logger) (*Syncer, error) {
	store, err := ledger.Open(cfg.Sync.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	var mirror worker.ArchiveWriter
	if cfg.Archive.Enabled {
		m, err := archive.NewMirror(cfg.Archive, cfg.Sync.FileExt)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create archive mirror: %w", err)
		}
		mirror = m
	}

	timeout := time.Duration(cfg.Sync.RequestTimeoutSeconds) * time.Second
	factory := func(region config.Region, sess *auth.Session) platform.Client {
		return platform.NewRESTClient(region, sess, timeout, cfg.Sync.FileExt, logger)
	}

	return &Syncer{
		cfg:       cfg,
		logger:    logger,
		ledger:    store,
		metrics:   metrics.New(),
		creds:     auth.NewProvider(logger),
		newClient: factory,
		archive:   mirror,
		runID:     uuid.NewString(),
	}, nil
}

// Run executes one sync run. Credential and listing failures abort the run;
// per-record failures land in the summary and the run keeps going.
func (s *Syncer) Run(ctx context.Context) (Summary, error) {
	summary := Summary{}
	mode := s.cfg.Sync.Mode

	s.logger.Info("starting sync run",
		zap.String("run_id", s.runID),
		zap.String("mode", mode),
		zap.Int("limit", s.cfg.Sync.Limit),
		zap.Bool("dry_run", s.cfg.Sync.DryRun),
		zap.Bool("ignore_state", s.cfg.Sync.IgnoreState),
		zap.String("state_path", s.cfg.Sync.StatePath),
	)

	if addr := s.cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := s.metrics.StartServer(addr); err != nil {
				s.logger.Error("failed to start metrics server", zap.Error(err))
			}
		}()
	}

	if n, err := s.ledger.Len(); err == nil {
		s.metrics.SetLedgerEntries(n)
		s.logger.Info("ledger loaded", zap.Int("entries", n))
	}

	var origin, dest platform.Client
	if mode == config.ModeFull || mode == config.ModeDownloadOnly {
		sess, err := s.creds.Acquire(ctx, auth.SideOrigin, s.cfg.Origin)
		if err != nil {
			return summary, err
		}
		origin = s.newClient(s.cfg.Origin, sess)
	}
	if mode == config.ModeFull || mode == config.ModeUploadOnly {
		sess, err := s.creds.Acquire(ctx, auth.SideDestination, s.cfg.Destination)
		if err != nil {
			return summary, err
		}
		dest = s.newClient(s.cfg.Destination, sess)
	}

	var tasks []worker.Task
	var err error
	if mode == config.ModeUploadOnly {
		source := &LocalSource{
			dir:    s.cfg.Sync.UploadDir,
			glob:   s.cfg.Sync.UploadGlob,
			logger: s.logger,
		}
		tasks, err = source.List(s.cfg.Sync.Limit)
	} else {
		lister := &Lister{
			client: origin,
			region: s.cfg.Origin,
			logger: s.logger,
		}
		tasks, err = lister.List(ctx, s.cfg.Sync.Limit)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to list activities: %w", err)
	}
	s.logger.Info("candidates selected", zap.Int("count", len(tasks)))

	workerCfg := worker.Config{
		Upload:      mode != config.ModeDownloadOnly,
		DryRun:      s.cfg.Sync.DryRun,
		IgnoreState: s.cfg.Sync.IgnoreState,
		DownloadDir: s.cfg.Sync.DownloadDir,
		FileExt:     s.cfg.Sync.FileExt,
	}
	fetcher := worker.NewFetcher(origin, s.archive, workerCfg, s.metrics, s.logger)
	var uploader *worker.Uploader
	if dest != nil {
		uploader = worker.NewUploader(dest, s.logger)
	}
	processor := worker.NewProcessor(workerCfg, fetcher, uploader, s.ledger, s.metrics, s.logger, s.runID)

	// Records run strictly one at a time: the two sessions are shared state
	// and the ledger must grow in a humanly auditable order.
	for _, task := range tasks {
		if ctx.Err() != nil {
			s.logSummary(summary)
			return summary, ctx.Err()
		}
		summary.Considered++
		summary.Add(processor.Process(ctx, task))
	}

	if n, err := s.ledger.Len(); err == nil {
		s.metrics.SetLedgerEntries(n)
	}

	s.logSummary(summary)
	return summary, nil
}

func (s *Syncer) logSummary(summary Summary) {
	s.logger.Info("sync run finished",
		zap.String("run_id", s.runID),
		zap.Int("considered", summary.Considered),
		zap.Int("skipped_duplicate", summary.SkippedDuplicate),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("uploaded", summary.Uploaded),
		zap.Int("failed", len(summary.Failed)),
	)
}

// Close cleans up resources
func (s *Syncer) Close() error {
	if s.ledger != nil {
		return s.ledger.Close()
	}
	return nil
}
