package worker

import (
	"context"
	"errors"
	"time"

	"garminsync/internal/ledger"
	"garminsync/internal/metrics"
	"garminsync/internal/platform"

	"go.uber.org/zap"
)

// Processor drives a single record through filter, fetch, upload, and record.
// Records run strictly one at a time; per-record failures are captured in the
// Result so the run can keep going.
type Processor struct {
	config   Config
	fetcher  *Fetcher
	uploader *Uploader
	ledger   ledger.Store
	metrics  *metrics.Collector
	logger   *zap.Logger
	runID    string
}

// NewProcessor creates a processor. uploader may be nil when the run never
// uploads.
func NewProcessor(
	cfg Config,
	fetcher *Fetcher,
	uploader *Uploader,
	ledgerStore ledger.Store,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
	runID string,
) *Processor {
	return &Processor{
		config:   cfg,
		fetcher:  fetcher,
		uploader: uploader,
		ledger:   ledgerStore,
		metrics:  metricsCollector,
		logger:   logger,
		runID:    runID,
	}
}

// Process handles one record
func (p *Processor) Process(ctx context.Context, task Task) Result {
	startTime := time.Now()
	res := Result{ID: task.ID}
	log := p.logger.With(zap.String("activity_id", task.ID))

	if !p.config.IgnoreState {
		seen, err := p.ledger.Contains(task.ID)
		if err != nil {
			res.Stage, res.Err = StageLedger, err
			p.metrics.IncFailed()
			log.Error("ledger lookup failed", zap.Error(err))
			return res
		}
		if seen {
			res.Skipped = true
			p.metrics.IncSkipped()
			log.Debug("already uploaded, skipping")
			return res
		}
	}

	payload, err := p.fetcher.Fetch(ctx, task)
	if err != nil {
		res.Stage, res.Err = fetchStage(err), err
		p.metrics.IncFailed()
		log.Warn("fetch failed", zap.String("stage", res.Stage), zap.Error(err))
		return res
	}
	if task.Source == SourceRemote {
		res.Downloaded = true
		p.metrics.IncDownloaded()
		p.metrics.AddBytes(int64(len(payload)))
	}

	if !p.config.Upload {
		p.metrics.ObserveDuration(time.Since(startTime))
		log.Info("downloaded", zap.Int("bytes", len(payload)))
		return res
	}

	if p.config.DryRun {
		log.Info("dry-run: would upload", zap.Int("bytes", len(payload)))
		return res
	}

	status, err := p.uploader.Upload(ctx, task.ID, payload)
	if err != nil {
		stage := StageUpload
		var consentErr *platform.ConsentError
		if errors.As(err, &consentErr) {
			stage = StageConsent
		}
		res.Stage, res.Err = stage, err
		p.metrics.IncFailed()
		log.Warn("upload failed", zap.String("stage", stage), zap.Error(err))
		return res
	}

	res.Uploaded = true
	if status == platform.StatusDuplicate {
		p.metrics.IncDuplicate()
		log.Info("destination already has activity")
	} else {
		p.metrics.IncUploaded()
		log.Info("uploaded", zap.Int("bytes", len(payload)))
	}

	entry := ledger.Entry{
		ActivityID: task.ID,
		UploadedAt: time.Now().UTC(),
		Meta: map[string]string{
			"status": string(status),
			"run_id": p.runID,
			"source": string(task.Source),
		},
	}
	if err := p.ledger.Record(entry); err != nil {
		// The upload went through; surface the persistence failure so the
		// next run can rely on the destination's duplicate signal.
		res.Stage, res.Err = StageRecord, err
		p.metrics.IncFailed()
		log.Error("failed to record upload", zap.Error(err))
	}

	p.metrics.ObserveDuration(time.Since(startTime))
	return res
}

func fetchStage(err error) string {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return StageDecode
	}
	return StageFetch
}
