// Package export implements the report export engine: bounded
// concurrent job scheduling with a FIFO overflow queue, cooperative
// cancellation, live progress events and expiry-driven resource
// cleanup, on top of pluggable format generators and data sources.
package export

import (
	"context"
	"sync"
	"time"

	"github.com/bluejazz822/networkdb-sub008/config"
	"github.com/bluejazz822/networkdb-sub008/event"
	"github.com/bluejazz822/networkdb-sub008/export/format"
	"github.com/bluejazz822/networkdb-sub008/export/source"
	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

// Service is the engine facade. Construct with NewService, call Start
// once, then submit exports; Shutdown stops admissions and drains.
//
// Usage:
//
//	svc, err := export.NewService(cfg, log, adapter)
//	if err != nil { ... }
//	svc.Start(ctx)
//	defer svc.Shutdown(ctx)
//
//	id, err := svc.StartExport(&export.Options{Format: format.CSV, ResourceType: "vpc"}, nil)
type Service struct {
	cfg       *config.Exporter
	log       *logger.Logger
	bus       *event.Bus
	registry  *format.Registry
	scheduler *Scheduler
	tracker   *Tracker

	startOnce     sync.Once
	stopOnce      sync.Once
	cleanupCancel context.CancelFunc
	cleanupDone   chan struct{}
}

// NewService wires the engine together against the given data source.
func NewService(cfg *config.Exporter, log *logger.Logger, adapter source.Adapter) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultExporter()
	}

	genCfg := format.DefaultGeneratorConfig()
	genCfg.MaxFileSize = cfg.MaxFileSize
	genCfg.TempDir = cfg.TempDir

	registry := format.DefaultRegistry(genCfg)
	bus := event.NewBus(256, log)
	tracker := newTracker(cfg, log)

	scheduler, err := newScheduler(cfg, log, bus, registry, adapter, tracker)
	if err != nil {
		return nil, err
	}
	tracker.bind(scheduler)

	return &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		registry:    registry,
		scheduler:   scheduler,
		tracker:     tracker,
		cleanupDone: make(chan struct{}),
	}, nil
}

// Start launches the event dispatcher and the periodic cleanup sweep.
func (svc *Service) Start(ctx context.Context) {
	svc.startOnce.Do(func() {
		svc.bus.Start(ctx)

		cleanupCtx, cancel := context.WithCancel(context.Background())
		svc.cleanupCancel = cancel
		go svc.cleanupLoop(cleanupCtx)

		if err := svc.bus.Publish(ctx, &event.Event{
			Type: event.TypeServiceInitialized,
			Payload: map[string]any{
				"max_concurrent_exports": svc.cfg.MaxConcurrentExports,
				"allowed_formats":        svc.cfg.AllowedFormats,
			},
		}); err != nil {
			svc.log.Warn(ctx, "Failed to publish init event", "error", err)
		}

		svc.log.Info(ctx, "Export service started",
			"max_concurrent", svc.cfg.MaxConcurrentExports,
			"cleanup_interval", svc.cfg.CleanupInterval)
	})
}

func (svc *Service) cleanupLoop(ctx context.Context) {
	defer close(svc.cleanupDone)

	interval := svc.cfg.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.tracker.CleanupResources(ctx)
		}
	}
}

// StartExport admits a job immediately or rejects with ErrNoCapacity.
// onProgress, when non-nil, receives every progress change and the
// terminal snapshot.
func (svc *Service) StartExport(opts *Options, onProgress func(Progress)) (string, error) {
	return svc.scheduler.StartExport(opts, onProgress)
}

// QueueExport always accepts a valid job, queueing it when no slot is free.
func (svc *Service) QueueExport(opts *Options) (string, error) {
	return svc.scheduler.QueueExport(opts)
}

// CancelExport requests cancellation of a queued or running job.
func (svc *Service) CancelExport(jobID string) error {
	return svc.scheduler.CancelExport(jobID)
}

// GetExportProgress returns the job's current progress snapshot.
func (svc *Service) GetExportProgress(jobID string) (Progress, error) {
	return svc.scheduler.GetExportProgress(jobID)
}

// GetExportResult returns the terminal result, or nil while running.
func (svc *Service) GetExportResult(jobID string) (*Result, error) {
	return svc.scheduler.GetExportResult(jobID)
}

// GetResourceUsage returns a terminal job's recorded footprint:
// processing time, retained bytes, temp artifacts and expiry.
func (svc *Service) GetResourceUsage(jobID string) (UsageRecord, error) {
	return svc.tracker.usage(jobID)
}

// Usage reports current slot, queue and retention counters.
func (svc *Service) Usage() ResourceUsage {
	return svc.tracker.Usage()
}

// CleanupResources runs one expiry sweep and reports what it reclaimed.
func (svc *Service) CleanupResources(ctx context.Context) CleanupStats {
	return svc.tracker.CleanupResources(ctx)
}

// Formats lists the registered output formats.
func (svc *Service) Formats() []format.Format {
	return svc.registry.Formats()
}

// Descriptors lists the registered generators' descriptors.
func (svc *Service) Descriptors() []format.Descriptor {
	return svc.registry.Descriptors()
}

// Subscribe registers a handler for an event type.
func (svc *Service) Subscribe(t event.Type, h event.Handler) {
	svc.bus.Subscribe(t, h)
}

// SubscribeJob returns an ordered event channel for one job, closed
// after the job's terminal event.
func (svc *Service) SubscribeJob(jobID string) <-chan *event.Event {
	return svc.bus.SubscribeJob(jobID)
}

// Shutdown stops admissions, cancels in-flight jobs, reclaims retained
// resources and stops the bus. Bounded by ctx.
func (svc *Service) Shutdown(ctx context.Context) {
	svc.stopOnce.Do(func() {
		svc.log.Info(ctx, "Export service shutting down")

		svc.scheduler.Shutdown(ctx)

		if svc.cleanupCancel != nil {
			svc.cleanupCancel()
			select {
			case <-svc.cleanupDone:
			case <-ctx.Done():
			}
		}

		stats := svc.tracker.reclaimAll(ctx)
		if err := svc.bus.Publish(ctx, &event.Event{
			Type: event.TypeServiceShutdown,
			Payload: map[string]any{
				"exports_cleaned_up": stats.ExportsCleanedUp,
				"files_cleaned_up":   stats.FilesCleanedUp,
			},
		}); err != nil {
			svc.log.Debug(ctx, "Shutdown event not published", "error", err)
		}
		svc.bus.Stop()
	})
}
