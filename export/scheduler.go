package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/bluejazz822/networkdb-sub008/concurrency"
	"github.com/bluejazz822/networkdb-sub008/concurrency/worker"
	"github.com/bluejazz822/networkdb-sub008/config"
	"github.com/bluejazz822/networkdb-sub008/event"
	"github.com/bluejazz822/networkdb-sub008/export/format"
	"github.com/bluejazz822/networkdb-sub008/export/source"
	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

// Progress weighting across stages: fetching advances 0-20, processing
// plus formatting 20-95, finalization closes at 100 only on completion.
const (
	fetchWeight     = 20
	formatCeiling   = 95
	unknownTotalCap = 90
)

// Scheduler owns the job registry, the bounded active set, the FIFO
// overflow queue and the per-job pipeline execution.
type Scheduler struct {
	cfg      *config.Exporter
	log      *logger.Logger
	bus      *event.Bus
	registry *format.Registry
	adapter  source.Adapter
	tracker  *Tracker
	manager  *concurrency.Manager
	pool     *worker.Pool

	mu    sync.RWMutex
	jobs  map[string]*Job
	queue []*Job

	baseCtx      context.Context
	baseCancel   context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown atomic.Bool
}

func newScheduler(cfg *config.Exporter, log *logger.Logger, bus *event.Bus, registry *format.Registry, adapter source.Adapter, tracker *Tracker) (*Scheduler, error) {
	manager, err := concurrency.NewManager(int32(cfg.MaxConcurrentExports))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:        cfg,
		log:        log,
		bus:        bus,
		registry:   registry,
		adapter:    adapter,
		tracker:    tracker,
		manager:    manager,
		jobs:       make(map[string]*Job),
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	s.pool = worker.NewPool(&worker.Config{
		MaxWorkers: cfg.MaxConcurrentExports,
		QueueSize:  cfg.MaxConcurrentExports * 2,
	})
	s.pool.Start()
	return s, nil
}

// newJobID builds a monotonic-ish opaque job token.
func newJobID() string {
	return fmt.Sprintf("export_%d_%s", time.Now().UnixMilli(), gonanoid.Must(8))
}

// StartExport validates and admits a job if a slot is free; it rejects
// with ErrNoCapacity otherwise. The id returns immediately, work runs
// asynchronously.
func (s *Scheduler) StartExport(opts *Options, onProgress func(Progress)) (string, error) {
	if s.shuttingDown.Load() {
		return "", ErrShuttingDown
	}

	_, snapshot, err := s.validateOptions(opts)
	if err != nil {
		return "", err
	}

	if !s.manager.TryAcquire() {
		return "", ErrNoCapacity
	}

	job := newJob(newJobID(), snapshot)
	job.onProgress = onProgress

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	s.launch(job)
	return job.ID, nil
}

// QueueExport validates and always accepts a job: it runs now if a slot
// is free, otherwise waits in the FIFO overflow queue.
func (s *Scheduler) QueueExport(opts *Options) (string, error) {
	if s.shuttingDown.Load() {
		return "", ErrShuttingDown
	}

	_, snapshot, err := s.validateOptions(opts)
	if err != nil {
		return "", err
	}

	job := newJob(newJobID(), snapshot)

	// The slot check and the enqueue share the lock promote() takes, so
	// a slot freed between them cannot strand this job in the queue.
	s.mu.Lock()
	s.jobs[job.ID] = job
	acquired := s.manager.TryAcquire()
	if !acquired {
		s.queue = append(s.queue, job)
		queued := len(s.queue)
		s.mu.Unlock()
		s.log.Debug(s.baseCtx, "Export queued", "job_id", job.ID, "queue_length", queued)
		return job.ID, nil
	}
	s.mu.Unlock()

	s.launch(job)
	return job.ID, nil
}

// launch submits an admitted job to the pool. The caller must already
// hold a concurrency slot; it is released when the job finishes and the
// next queued job, if any, is promoted.
func (s *Scheduler) launch(job *Job) {
	s.wg.Add(1)
	err := s.pool.Submit(func() error {
		defer func() {
			s.manager.Release()
			s.promote()
			s.wg.Done()
		}()
		s.runJob(job)
		return nil
	})
	if err != nil {
		// Pool queue is sized to the slot count, so this is unexpected.
		s.manager.Release()
		s.wg.Done()
		job.fail(StageValidation, err)
		s.finalize(s.baseCtx, job, nil)
	}
}

// promote moves queued jobs into free slots, oldest first.
func (s *Scheduler) promote() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.shuttingDown.Load() {
			s.mu.Unlock()
			return
		}
		if !s.manager.TryAcquire() {
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.launch(job)
	}
}

// CancelExport requests cooperative cancellation. A queued job is
// removed and finalized immediately; a running job transitions at its
// next batch boundary.
func (s *Scheduler) CancelExport(jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	for i, queued := range s.queue {
		if queued == job {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.mu.Unlock()
			if job.cancelled() {
				s.finalize(s.baseCtx, job, nil)
			}
			return nil
		}
	}
	s.mu.Unlock()

	if job.Status().Terminal() {
		return nil
	}
	job.cancelFlag.Store(true)
	s.log.Info(s.baseCtx, "Export cancellation requested", "job_id", jobID)
	return nil
}

// GetExportProgress returns the job's progress snapshot.
func (s *Scheduler) GetExportProgress(jobID string) (Progress, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return Progress{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// GetExportResult returns the terminal result, or nil while running.
func (s *Scheduler) GetExportResult(jobID string) (*Result, error) {
	s.mu.RLock()
	job, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Result(), nil
}

func (s *Scheduler) queueLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// removeTerminal deletes a terminal job from the registry, releasing
// its buffer. Running jobs are never touched.
func (s *Scheduler) removeTerminal(jobID string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || !job.Status().Terminal() {
		return nil, false
	}
	delete(s.jobs, jobID)
	return job, true
}

// Shutdown stops admissions, drains the queue as cancelled, cancels
// in-flight jobs and waits for them, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	drained := s.queue
	s.queue = nil
	active := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.Status().Terminal() {
			active = append(active, job)
		}
	}
	s.mu.Unlock()

	for _, job := range drained {
		if job.cancelled() {
			s.finalize(s.baseCtx, job, nil)
		}
	}
	for _, job := range active {
		job.cancelFlag.Store(true)
	}
	s.baseCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn(context.Background(), "Shutdown wait expired with jobs still in flight")
	}

	s.pool.Stop(ctx)
}

// runJob drives one admitted job through the pipeline and finalizes it.
func (s *Scheduler) runJob(job *Job) {
	ctx := logger.WithJobID(s.baseCtx, job.ID)

	job.setStatus(StatusInitializing)
	s.publish(ctx, event.TypeExportStarted, job, nil)
	s.emitProgress(ctx, job)

	result, err := s.execute(ctx, job)

	var cancelErr *CancellationError
	switch {
	case errors.As(err, &cancelErr):
		if job.cancelled() {
			s.log.Info(ctx, "Export cancelled", "job_id", job.ID)
		}
	case err != nil:
		if job.fail(stageOf(err), err) {
			s.log.Error(ctx, "Export failed", "job_id", job.ID, "stage", stageOf(err), "error", err)
		}
	default:
		if job.complete(result) {
			s.log.Info(ctx, "Export completed",
				"job_id", job.ID,
				"records", result.Metadata.RecordCount,
				"bytes", result.Metadata.ByteSize,
				"duration", job.duration())
		}
	}

	s.finalize(ctx, job, result)
}

// finalize records usage, schedules expiry and emits the terminal event.
func (s *Scheduler) finalize(ctx context.Context, job *Job, result *format.Result) {
	s.tracker.record(job, result)

	snapshot := job.Snapshot()
	var eventType event.Type
	payload := map[string]any{"status": snapshot.Status}
	switch snapshot.Status {
	case StatusCompleted:
		eventType = event.TypeExportCompleted
		if result != nil {
			payload["records"] = result.Metadata.RecordCount
			payload["bytes"] = result.Metadata.ByteSize
			payload["mime_type"] = result.Metadata.MimeType
		}
	case StatusFailed:
		eventType = event.TypeExportFailed
		if snapshot.Error != nil {
			payload["error"] = snapshot.Error.Message
			payload["stage"] = snapshot.Error.Stage
		}
	default:
		eventType = event.TypeExportCancelled
	}
	s.publish(ctx, eventType, job, payload)

	if job.onProgress != nil {
		job.onProgress(snapshot)
	}
}

// execute runs fetch, processing and formatting for one job. It checks
// the cancellation flag only at batch boundaries.
func (s *Scheduler) execute(ctx context.Context, job *Job) (*format.Result, error) {
	gen, ok := s.registry.Get(job.Options.Format)
	if !ok {
		return nil, &FormatError{Format: string(job.Options.Format), Err: fmt.Errorf("generator disappeared for %q", job.Options.Format)}
	}
	opts := job.Options

	job.setStatus(StatusFetching)
	s.emitProgress(ctx, job)

	cursor, err := s.adapter.Fetch(ctx, source.Query{
		ResourceType: opts.ResourceType,
		Filters:      opts.Filters,
		Limit:        s.cfg.MaxRecordsPerExport,
	})
	if err != nil {
		return nil, s.asPipelineError(job, StageFetch, err)
	}
	defer cursor.Close()

	total := cursor.Total()
	if s.cfg.MaxRecordsPerExport > 0 && total > s.cfg.MaxRecordsPerExport {
		total = s.cfg.MaxRecordsPerExport
	}
	if total >= 0 {
		job.setCounts(int64(total), 0)
	}

	if s.useStreaming(gen, opts, total) {
		return s.executeStreaming(ctx, job, gen, cursor, total)
	}
	return s.executeBuffered(ctx, job, gen, cursor, total)
}

// useStreaming picks the generation mode: callers can force streaming,
// otherwise it kicks in strictly above the generator's threshold or
// when the total is unknown up front.
func (s *Scheduler) useStreaming(gen format.Generator, opts *Options, total int) bool {
	if !gen.SupportsStreaming() {
		return false
	}
	if opts.Streaming {
		return true
	}
	threshold := gen.Descriptor().DefaultConfig.StreamingThreshold
	if total < 0 {
		return true
	}
	return total > threshold
}

// executeBuffered pulls every batch into memory, then hands the full
// dataset to the generator in one call.
func (s *Scheduler) executeBuffered(ctx context.Context, job *Job, gen format.Generator, cursor source.Cursor, total int) (*format.Result, error) {
	opts := job.Options
	var records []format.Record
	fields := opts.Fields

	for {
		if job.cancelFlag.Load() {
			return nil, &CancellationError{JobID: job.ID}
		}
		batch, err := cursor.Next(ctx, opts.BatchSize)
		if err != nil {
			return nil, s.asPipelineError(job, StageFetch, err)
		}
		if len(batch) == 0 {
			break
		}
		if s.cfg.MaxRecordsPerExport > 0 && len(records)+len(batch) > s.cfg.MaxRecordsPerExport {
			batch = batch[:s.cfg.MaxRecordsPerExport-len(records)]
		}
		records = append(records, batch...)

		job.setCounts(int64(total), int64(len(records)))
		job.setProgress(fetchProgress(len(records), total))
		s.emitProgress(ctx, job)

		if s.cfg.MaxRecordsPerExport > 0 && len(records) >= s.cfg.MaxRecordsPerExport {
			break
		}
	}

	if job.cancelFlag.Load() {
		return nil, &CancellationError{JobID: job.ID}
	}

	job.setStatus(StatusProcessing)
	if len(fields) == 0 {
		fields = deriveFields(records)
	}
	job.setCounts(int64(len(records)), int64(len(records)))
	job.setProgress(fetchWeight)
	s.emitProgress(ctx, job)

	job.setStatus(StatusFormatting)
	input := &format.Input{
		Records: projectRecords(records, fields),
		Fields:  fields,
		OnProgress: func(percent int, stage string) {
			job.setProgress(blendFormatProgress(percent))
			s.emitProgress(ctx, job)
		},
	}

	result := gen.Generate(ctx, input, opts.Custom)
	if !result.Success {
		return nil, s.asPipelineError(job, StageFormat, &FormatError{Format: string(opts.Format), Err: result.Error})
	}
	return result, nil
}

// executeStreaming interleaves fetching and formatting, committing each
// batch to the generator before pulling the next one, so peak memory
// stays proportional to the batch size.
func (s *Scheduler) executeStreaming(ctx context.Context, job *Job, gen format.Generator, cursor source.Cursor, total int) (*format.Result, error) {
	opts := job.Options
	fields := opts.Fields

	var stream format.Stream
	processed := 0

	closeStream := func() {
		if stream != nil {
			stream.Close()
		}
	}

	for {
		if job.cancelFlag.Load() {
			closeStream()
			return nil, &CancellationError{JobID: job.ID}
		}
		batch, err := cursor.Next(ctx, opts.BatchSize)
		if err != nil {
			closeStream()
			return nil, s.asPipelineError(job, StageFetch, err)
		}
		if len(batch) == 0 {
			break
		}
		if s.cfg.MaxRecordsPerExport > 0 && processed+len(batch) > s.cfg.MaxRecordsPerExport {
			batch = batch[:s.cfg.MaxRecordsPerExport-processed]
		}

		job.setStatus(StatusProcessing)
		if len(fields) == 0 {
			fields = deriveFields(batch)
		}
		projected := projectRecords(batch, fields)

		// Cancellation checkpoint between fetch-batch and format-batch.
		if job.cancelFlag.Load() {
			closeStream()
			return nil, &CancellationError{JobID: job.ID}
		}

		if stream == nil {
			stream, err = gen.OpenStream(ctx, fields, opts.Custom, nil)
			if err != nil {
				return nil, s.asPipelineError(job, StageFormat, &FormatError{Format: string(opts.Format), Err: err})
			}
		}
		job.setStatus(StatusFormatting)
		if err := stream.WriteBatch(projected); err != nil {
			closeStream()
			return nil, s.asPipelineError(job, StageFormat, &FormatError{Format: string(opts.Format), Err: err})
		}

		processed += len(projected)
		job.setCounts(int64(total), int64(processed))
		job.setProgress(streamProgress(processed, total))
		s.emitProgress(ctx, job)

		if s.cfg.MaxRecordsPerExport > 0 && processed >= s.cfg.MaxRecordsPerExport {
			break
		}
	}

	if job.cancelFlag.Load() {
		closeStream()
		return nil, &CancellationError{JobID: job.ID}
	}

	if stream == nil {
		// Empty dataset: fall back to one buffered call so the output
		// still carries headers and valid framing.
		if len(fields) == 0 {
			fields = opts.Fields
		}
		result := gen.Generate(ctx, &format.Input{Fields: fields}, opts.Custom)
		if !result.Success {
			return nil, s.asPipelineError(job, StageFormat, &FormatError{Format: string(opts.Format), Err: result.Error})
		}
		job.setCounts(0, 0)
		return result, nil
	}

	result, err := stream.Close()
	if err != nil {
		return nil, s.asPipelineError(job, StageFormat, &FormatError{Format: string(opts.Format), Err: err})
	}
	job.setCounts(int64(processed), int64(processed))
	return result, nil
}

// asPipelineError maps context cancellation to CancellationError when it
// was caused by a cancel request or shutdown, and wraps everything else
// with its stage.
func (s *Scheduler) asPipelineError(job *Job, stage Stage, err error) error {
	if errors.Is(err, context.Canceled) && (job.cancelFlag.Load() || s.shuttingDown.Load()) {
		return &CancellationError{JobID: job.ID}
	}
	switch stage {
	case StageFetch:
		var fe *FetchError
		if errors.As(err, &fe) {
			return err
		}
		return &FetchError{Err: err}
	case StageFormat:
		return err
	default:
		return err
	}
}

func stageOf(err error) Stage {
	var fetchErr *FetchError
	var formatErr *FormatError
	switch {
	case errors.As(err, &fetchErr):
		return StageFetch
	case errors.As(err, &formatErr):
		return StageFormat
	default:
		return StageProcess
	}
}

// fetchProgress maps fetched records onto the 0-20 band.
func fetchProgress(fetched, total int) int {
	if total <= 0 {
		if fetched > 0 {
			return fetchWeight * 3 / 4
		}
		return 0
	}
	p := fetched * fetchWeight / total
	if p > fetchWeight {
		p = fetchWeight
	}
	return p
}

// streamProgress maps committed records onto the 20-95 band, capping at
// 90 while the total is unknown.
func streamProgress(processed, total int) int {
	if total <= 0 {
		p := fetchWeight + processed/100
		if p > unknownTotalCap {
			p = unknownTotalCap
		}
		return p
	}
	p := fetchWeight + processed*(formatCeiling-fetchWeight)/total
	if p > formatCeiling {
		p = formatCeiling
	}
	return p
}

// blendFormatProgress maps a generator's 0-100 script onto 20-95.
func blendFormatProgress(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return fetchWeight + percent*(formatCeiling-fetchWeight)/100
}

// emitProgress publishes the job's progress to the bus and the caller's
// callback. Percentages only ever increase, so subscribers observe a
// non-decreasing sequence.
func (s *Scheduler) emitProgress(ctx context.Context, job *Job) {
	snapshot := job.Snapshot()
	s.publish(ctx, event.TypeExportProgress, job, map[string]any{
		"status":            snapshot.Status,
		"progress":          snapshot.Progress,
		"total_records":     snapshot.TotalRecords,
		"processed_records": snapshot.ProcessedRecords,
	})
	if job.onProgress != nil {
		job.onProgress(snapshot)
	}
}

func (s *Scheduler) publish(ctx context.Context, t event.Type, job *Job, payload map[string]any) {
	if s.bus == nil {
		return
	}
	evt := &event.Event{Type: t, JobID: job.ID, Payload: payload}
	if err := s.bus.Publish(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn(ctx, "Failed to publish export event", "type", t, "job_id", job.ID, "error", err)
	}
}

// deriveFields infers column order from the first record when the
// caller did not pick fields: sorted for determinism.
func deriveFields(records []format.Record) []string {
	if len(records) == 0 {
		return nil
	}
	fields := make([]string, 0, len(records[0]))
	for k := range records[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// projectRecords applies field selection. An empty field list keeps
// records as-is; generators then derive columns themselves.
func projectRecords(records []format.Record, fields []string) []format.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]format.Record, len(records))
	for i, record := range records {
		projected := make(format.Record, len(fields))
		for _, field := range fields {
			if v, ok := record[field]; ok {
				projected[field] = v
			} else {
				projected[field] = nil
			}
		}
		out[i] = projected
	}
	return out
}
