package export

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// Status is the lifecycle state of an export job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusInitializing Status = "initializing"
	StatusFetching     Status = "fetching"
	StatusProcessing   Status = "processing"
	StatusFormatting   Status = "formatting"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// Terminal reports whether a job in this status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobError captures why a job failed and the stage it failed in.
type JobError struct {
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
}

// Progress is a point-in-time snapshot of a job's state.
type Progress struct {
	JobID            string    `json:"jobId"`
	Status           Status    `json:"status"`
	Progress         int       `json:"progress"`
	TotalRecords     int64     `json:"totalRecords"`
	ProcessedRecords int64     `json:"processedRecords"`
	Error            *JobError `json:"error,omitempty"`
}

// Result is what a caller retrieves for a terminal job.
type Result struct {
	Success  bool            `json:"success"`
	Buffer   []byte          `json:"-"`
	Metadata format.Metadata `json:"metadata"`
	Error    *JobError       `json:"error,omitempty"`
}

// Job is one export request's lifecycle record. It is mutated only by
// the scheduler (status/progress) and the tracker (cleanup deletion);
// everyone else reads snapshots.
type Job struct {
	ID      string
	Options *Options // immutable snapshot taken at admission

	mu               sync.Mutex
	status           Status
	progress         int
	totalRecords     int64
	processedRecords int64
	result           *format.Result
	jobErr           *JobError

	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time

	cancelFlag atomic.Bool
	onProgress func(Progress)
}

func newJob(id string, opts *Options) *Job {
	return &Job{
		ID:        id,
		Options:   opts,
		status:    StatusQueued,
		createdAt: time.Now(),
	}
}

// Snapshot returns the job's current progress view.
func (j *Job) Snapshot() Progress {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Progress{
		JobID:            j.ID,
		Status:           j.status,
		Progress:         j.progress,
		TotalRecords:     j.totalRecords,
		ProcessedRecords: j.processedRecords,
		Error:            j.jobErr,
	}
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// setStatus transitions the job unless it is already terminal. It
// returns false when the transition was refused.
func (j *Job) setStatus(s Status) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = s
	switch {
	case s == StatusInitializing && j.startedAt.IsZero():
		j.startedAt = time.Now()
	case s.Terminal():
		j.completedAt = time.Now()
	}
	return true
}

// setProgress raises the progress percentage; it never goes backwards.
func (j *Job) setProgress(percent int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if percent > 100 {
		percent = 100
	}
	if percent > j.progress {
		j.progress = percent
	}
	return j.progress
}

// setCounts updates the record counters, clamping processed to total
// once the total is known.
func (j *Job) setCounts(total, processed int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if total >= 0 {
		j.totalRecords = total
	}
	if j.totalRecords > 0 && processed > j.totalRecords {
		processed = j.totalRecords
	}
	if processed > j.processedRecords {
		j.processedRecords = processed
	}
}

// complete finalizes a successful job. Exactly one of result/jobErr is
// ever set once the job is terminal.
func (j *Job) complete(result *format.Result) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusCompleted
	j.progress = 100
	j.result = result
	j.jobErr = nil
	j.completedAt = time.Now()
	return true
}

// fail finalizes a failed job.
func (j *Job) fail(stage Stage, err error) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusFailed
	j.result = nil
	j.jobErr = &JobError{Message: err.Error(), Stage: stage}
	j.completedAt = time.Now()
	return true
}

// cancelled finalizes a cancelled job.
func (j *Job) cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusCancelled
	j.result = nil
	j.completedAt = time.Now()
	return true
}

// Result returns the caller-facing result view, or nil while the job is
// still running.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch {
	case j.status == StatusCompleted && j.result != nil:
		return &Result{Success: true, Buffer: j.result.Buffer, Metadata: j.result.Metadata}
	case j.status == StatusFailed:
		return &Result{Success: false, Error: j.jobErr}
	case j.status == StatusCancelled:
		return &Result{Success: false}
	default:
		return nil
	}
}

// releaseBuffer drops the result buffer so the sweep reclaims memory.
func (j *Job) releaseBuffer() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return 0
	}
	n := int64(len(j.result.Buffer))
	j.result.Buffer = nil
	return n
}

// duration returns wall time from start (or creation) to completion.
func (j *Job) duration() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	start := j.startedAt
	if start.IsZero() {
		start = j.createdAt
	}
	end := j.completedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(start)
}
