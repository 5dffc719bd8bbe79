package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/analyzer"
	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/browser"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
	"github.com/khanhnv2901/vela/internal/infrastructure/metrics"
	"github.com/khanhnv2901/vela/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/vela/internal/shared/errors"
)

// Cache is the result cache as the orchestrator sees it.
type Cache interface {
	Get(ctx context.Context, id string) (*scan.Record, error)
	Put(ctx context.Context, record *scan.Record) error
	GetByURL(ctx context.Context, pageURL string) (*scan.Record, error)
}

// Orchestrator drives a scan through queued, running and a terminal state
type Orchestrator struct {
	repo     scan.Repository
	cache    Cache
	capturer browser.Capturer
	analyzer *analyzer.Analyzer
	catalogs *catalog.Holder
	events   *events.Broadcaster
	metrics  *metrics.Metrics
	logger   *zap.Logger

	captureTimeout time.Duration
	inflight       sync.WaitGroup
}

// Option customises an Orchestrator
type Option func(*Orchestrator)

// WithEvents publishes every status change to b
func WithEvents(b *events.Broadcaster) Option { return func(o *Orchestrator) { o.events = b } }

// WithMetrics records transitions and capture timings in m
func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithCaptureTimeout overrides the page capture deadline
func WithCaptureTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.captureTimeout = d
		}
	}
}

// NewOrchestrator creates a new scan orchestrator
func NewOrchestrator(
	repo scan.Repository,
	cache Cache,
	capturer browser.Capturer,
	an *analyzer.Analyzer,
	catalogs *catalog.Holder,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		repo:           repo,
		cache:          cache,
		capturer:       capturer,
		analyzer:       an,
		catalogs:       catalogs,
		logger:         zap.NewNop(),
		captureTimeout: constants.CaptureTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.analyzer == nil {
		o.analyzer = analyzer.New(analyzer.Classifier{})
	}
	return o
}

// CreateScan persists a queued scan for pageURL
func (o *Orchestrator) CreateScan(ctx context.Context, pageURL string) (*scan.Record, error) {
	record, err := scan.NewRecord(pageURL)
	if err != nil {
		return nil, err
	}
	if err := o.repo.CreateStub(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}
	o.transitioned(record)
	return record, nil
}

// Launch runs Execute for id on a detached goroutine. The goroutine never
// outlives its own error boundary: any error or panic leaves the scan
// failed in storage.
func (o *Orchestrator) Launch(id string) {
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx := context.Background()

		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("scan_panic",
					zap.String("scan_id", id),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				o.markFailed(ctx, id, fmt.Sprintf("internal error: %v", r))
			}
		}()

		record, err := o.Execute(ctx, id)
		if err == nil {
			return
		}
		o.logger.Error("scan_execute_failed", zap.String("scan_id", id), zap.Error(err))
		if record == nil || !record.Status().IsTerminal() {
			o.markFailed(ctx, id, err.Error())
		}
	}()
}

// Wait blocks until every launched scan has finished or ctx is done
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the pipeline for a queued scan. A capture failure ends the
// scan as failed and is not returned; the error result only reports
// storage problems.
func (o *Orchestrator) Execute(ctx context.Context, id string) (*scan.Record, error) {
	record, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := record.Start(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", id, err)
	}
	if err := o.repo.UpdateStatus(ctx, id, scan.StatusRunning, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to mark scan running: %w", err)
	}
	o.transitioned(record)
	o.metrics.ScanStarted()
	defer o.metrics.ScanFinished()
	o.logger.Info("scan_started", zap.String("scan_id", id), zap.String("url", record.URL()))

	captureCtx, cancel := context.WithTimeout(ctx, o.captureTimeout)
	started := time.Now()
	capture, err := o.capturer.Capture(captureCtx, record.URL())
	cancel()
	o.metrics.Capture(time.Since(started), err)

	if err != nil {
		return record, o.fail(ctx, record, err.Error())
	}

	// The catalog is read once so a reload mid-scan cannot mix versions.
	result := o.analyzer.Analyze(capture, record.URL(), o.catalogs.Current())
	if err := record.Complete(result); err != nil {
		return nil, fmt.Errorf("scan %s: %w", id, err)
	}

	persistErr := o.repo.SaveResult(ctx, record)
	if persistErr != nil {
		persistErr = fmt.Errorf("failed to save scan result: %w", persistErr)
	}
	o.store(ctx, record)
	o.transitioned(record)

	summary := record.Summary()
	o.metrics.ScanCompleted(string(summary.Grade), summary.TotalScripts)
	o.logger.Info("scan_completed",
		zap.String("scan_id", id),
		zap.String("url", record.URL()),
		zap.String("grade", string(summary.Grade)),
		zap.Int("scripts", summary.TotalScripts),
		zap.Int("requests", summary.TotalRequests),
		zap.Int64("duration_ms", result.DurationMs),
	)
	return record, persistErr
}

// GetScan returns the scan from the cache, falling back to storage. A
// terminal scan read from storage is put back into the cache.
func (o *Orchestrator) GetScan(ctx context.Context, id string) (*scan.Record, error) {
	if o.cache != nil {
		cached, err := o.cache.Get(ctx, id)
		o.metrics.CacheLookup("id", cached != nil, err)
		if err != nil {
			o.logger.Warn("cache_read_failed", zap.String("scan_id", id), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	record, err := o.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status().IsTerminal() {
		o.store(ctx, record)
	}
	return record, nil
}

// ListScans returns stored scans newest first. Rows that cannot be decoded
// are skipped.
func (o *Orchestrator) ListScans(ctx context.Context, limit, offset int) ([]*scan.Record, error) {
	rows, err := o.repo.ListRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scans: %w", err)
	}
	records := make([]*scan.Record, 0, len(rows))
	for _, row := range rows {
		record, err := scan.FromRow(row)
		if err != nil {
			o.logger.Warn("scan_row_skipped", zap.String("scan_id", row.ID), zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Ping checks durable storage
func (o *Orchestrator) Ping(ctx context.Context) error {
	return o.repo.Ping(ctx)
}

// Catalogs returns the catalog holder the pipeline matches against
func (o *Orchestrator) Catalogs() *catalog.Holder { return o.catalogs }

// Helper methods

func (o *Orchestrator) load(ctx context.Context, id string) (*scan.Record, error) {
	row, err := o.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sharedErrors.ErrScanNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get scan: %w", err)
	}
	return scan.FromRow(*row)
}

// fail moves record to failed and persists it. Persisting is best effort;
// its error is returned for logging only.
func (o *Orchestrator) fail(ctx context.Context, record *scan.Record, msg string) error {
	if err := record.Fail(msg); err != nil {
		return err
	}
	o.logger.Warn("scan_failed",
		zap.String("scan_id", record.ID()),
		zap.String("url", record.URL()),
		zap.String("error", msg),
	)

	var persistErr error
	if err := o.repo.UpdateStatus(ctx, record.ID(), scan.StatusFailed, record.ErrorMessage(), record.CompletedAt()); err != nil {
		persistErr = fmt.Errorf("failed to mark scan failed: %w", err)
	}
	o.store(ctx, record)
	o.transitioned(record)
	return persistErr
}

// markFailed is the last-resort path for Launch. It reloads the scan so it
// works no matter how far Execute got.
func (o *Orchestrator) markFailed(ctx context.Context, id, msg string) {
	record, err := o.load(ctx, id)
	if err != nil {
		o.logger.Error("scan_mark_failed_error", zap.String("scan_id", id), zap.Error(err))
		return
	}
	if record.Status().IsTerminal() {
		return
	}
	if err := o.fail(ctx, record, msg); err != nil {
		o.logger.Error("scan_mark_failed_error", zap.String("scan_id", id), zap.Error(err))
	}
}

func (o *Orchestrator) store(ctx context.Context, record *scan.Record) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, record); err != nil {
		o.logger.Warn("cache_write_failed", zap.String("scan_id", record.ID()), zap.String("url", record.URL()), zap.Error(err))
	}
}

func (o *Orchestrator) transitioned(record *scan.Record) {
	o.metrics.ScanStatus(string(record.Status()))
	if o.events != nil {
		o.events.PublishRecord(record)
	}
}
