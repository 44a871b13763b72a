package export

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/bluejazz822/networkdb-sub008/config"
	"github.com/bluejazz822/networkdb-sub008/export/format"
	"github.com/bluejazz822/networkdb-sub008/logging/logger"
	"github.com/bluejazz822/networkdb-sub008/queue"
)

// ResourceUsage is the tracker's point-in-time view of what finished
// exports are still holding.
type ResourceUsage struct {
	ActiveExports   int   `json:"activeExports"`
	QueuedExports   int   `json:"queuedExports"`
	TrackedResults  int   `json:"trackedResults"`
	ResultBytes     int64 `json:"resultBytes"`
	TempFiles       int   `json:"tempFiles"`
	MemoryThreshold int64 `json:"memoryThreshold"`
}

// UsageRecord is one terminal job's resource footprint: wall time
// spent, retained buffer size, temp artifacts and when the tracker
// will reclaim it all.
type UsageRecord struct {
	JobID          string        `json:"jobId"`
	Status         Status        `json:"status"`
	ProcessingTime time.Duration `json:"processingTime"`
	MemoryBytes    int64         `json:"memoryBytes"`
	TempFiles      []string      `json:"tempFiles,omitempty"`
	ExpiresAt      time.Time     `json:"expiresAt"`
}

// CleanupStats reports what one cleanup pass reclaimed.
type CleanupStats struct {
	ExportsCleanedUp int `json:"exportsCleanedUp"`
	FilesCleanedUp   int `json:"filesCleanedUp"`
}

// trackedResource is one terminal job's retained footprint.
type trackedResource struct {
	jobID     string
	status    Status
	elapsed   time.Duration
	bytes     int64
	tempFiles []string
	expiresAt time.Time
}

// Tracker retains terminal jobs' buffers and temp artifacts until they
// expire, then reclaims them. Expiry is driven by a timer queue keyed
// on each job's deadline; sweeps are idempotent.
type Tracker struct {
	cfg       *config.Exporter
	log       *logger.Logger
	scheduler *Scheduler // set by the service after construction

	mu          sync.Mutex
	expiries    *queue.TimerQueue
	resources   map[string]*trackedResource
	resultBytes int64
	tempCount   int
}

func newTracker(cfg *config.Exporter, log *logger.Logger) *Tracker {
	return &Tracker{
		cfg:       cfg,
		log:       log,
		expiries:  queue.NewTimerQueue(0),
		resources: make(map[string]*trackedResource),
	}
}

func (t *Tracker) bind(s *Scheduler) { t.scheduler = s }

// record registers a terminal job's footprint and schedules its expiry.
func (t *Tracker) record(job *Job, result *format.Result) {
	res := &trackedResource{
		jobID:     job.ID,
		status:    job.Status(),
		elapsed:   job.duration(),
		expiresAt: time.Now().Add(t.cfg.TempFileLifetime),
	}
	if result != nil {
		res.bytes = int64(len(result.Buffer))
		res.tempFiles = result.Metadata.TempFiles
	}

	t.mu.Lock()
	if _, exists := t.resources[job.ID]; exists {
		t.mu.Unlock()
		return
	}
	t.resources[job.ID] = res
	t.resultBytes += res.bytes
	t.tempCount += len(res.tempFiles)
	totalBytes := t.resultBytes
	t.mu.Unlock()

	if err := t.expiries.Push(&queue.QueuedTask{ID: job.ID, TriggerAt: res.expiresAt}); err != nil {
		// Queue at capacity: the periodic full sweep will still find it.
		t.log.Warn(context.Background(), "Failed to schedule result expiry", "job_id", job.ID, "error", err)
	}

	if t.cfg.MemoryThreshold > 0 && totalBytes > t.cfg.MemoryThreshold {
		t.log.Warn(context.Background(), "Retained export buffers exceed memory threshold",
			"retained_bytes", totalBytes,
			"threshold_bytes", t.cfg.MemoryThreshold)
	}
}

// CleanupResources reclaims every expired result: buffers are released,
// temp artifacts deleted, terminal jobs dropped from the registry.
// Calling it again with nothing newly expired returns zero stats.
func (t *Tracker) CleanupResources(ctx context.Context) CleanupStats {
	var stats CleanupStats

	due := t.expiries.DueTasks()
	now := time.Now()
	for _, task := range due {
		stats = stats.add(t.reclaim(ctx, task.ID))
	}

	// Backstop for entries whose expiry never made it into the queue.
	t.mu.Lock()
	var stragglers []string
	for id, res := range t.resources {
		if res.expiresAt.Before(now) && t.expiries.GetTask(id) == nil {
			stragglers = append(stragglers, id)
		}
	}
	t.mu.Unlock()
	for _, id := range stragglers {
		stats = stats.add(t.reclaim(ctx, id))
	}

	if stats.ExportsCleanedUp > 0 || stats.FilesCleanedUp > 0 {
		t.log.Info(ctx, "Cleanup pass reclaimed resources",
			"exports", stats.ExportsCleanedUp,
			"files", stats.FilesCleanedUp)
	}
	return stats
}

// reclaimAll releases everything regardless of expiry. Used at shutdown.
func (t *Tracker) reclaimAll(ctx context.Context) CleanupStats {
	t.mu.Lock()
	ids := make([]string, 0, len(t.resources))
	for id := range t.resources {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	var stats CleanupStats
	for _, id := range ids {
		t.expiries.Cancel(id)
		stats = stats.add(t.reclaim(ctx, id))
	}
	return stats
}

// reclaim releases one tracked job. Safe to call for ids already gone.
func (t *Tracker) reclaim(ctx context.Context, jobID string) CleanupStats {
	t.mu.Lock()
	res, ok := t.resources[jobID]
	if !ok {
		t.mu.Unlock()
		return CleanupStats{}
	}
	delete(t.resources, jobID)
	t.resultBytes -= res.bytes
	t.tempCount -= len(res.tempFiles)
	t.mu.Unlock()

	stats := CleanupStats{ExportsCleanedUp: 1}

	if t.scheduler != nil {
		if job, ok := t.scheduler.removeTerminal(jobID); ok {
			job.releaseBuffer()
		}
	}

	for _, path := range res.tempFiles {
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				resErr := &ResourceError{Path: path, Err: err}
				t.log.Warn(ctx, "Failed to remove temp artifact", "job_id", jobID, "error", resErr)
				continue
			}
		}
		stats.FilesCleanedUp++
	}
	return stats
}

// usage returns the recorded footprint of one terminal job. Jobs that
// have not completed, or whose record was already swept, are unknown.
func (t *Tracker) usage(jobID string) (UsageRecord, error) {
	t.mu.Lock()
	res, ok := t.resources[jobID]
	t.mu.Unlock()
	if !ok {
		return UsageRecord{}, ErrJobNotFound
	}
	return UsageRecord{
		JobID:          res.jobID,
		Status:         res.status,
		ProcessingTime: res.elapsed,
		MemoryBytes:    res.bytes,
		TempFiles:      res.tempFiles,
		ExpiresAt:      res.expiresAt,
	}, nil
}

// Usage returns current resource counters.
func (t *Tracker) Usage() ResourceUsage {
	t.mu.Lock()
	tracked := len(t.resources)
	bytes := t.resultBytes
	temp := t.tempCount
	t.mu.Unlock()

	usage := ResourceUsage{
		TrackedResults:  tracked,
		ResultBytes:     bytes,
		TempFiles:       temp,
		MemoryThreshold: t.cfg.MemoryThreshold,
	}
	if t.scheduler != nil {
		usage.ActiveExports = int(t.scheduler.manager.GetMetrics()["current"])
		usage.QueuedExports = t.scheduler.queueLength()
	}
	return usage
}

func (s CleanupStats) add(other CleanupStats) CleanupStats {
	s.ExportsCleanedUp += other.ExportsCleanedUp
	s.FilesCleanedUp += other.FilesCleanedUp
	return s
}
