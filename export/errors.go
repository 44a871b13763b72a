package export

import (
	"errors"
	"fmt"
)

// Stage names the pipeline stage an error originated in.
type Stage string

const (
	StageValidation Stage = "validation"
	StageFetch      Stage = "fetch"
	StageProcess    Stage = "process"
	StageFormat     Stage = "format"
	StageCleanup    Stage = "cleanup"
)

// Validation error codes surfaced synchronously from StartExport/QueueExport.
const (
	CodeStartError    = "START_ERROR"
	CodeInvalidFormat = "INVALID_FORMAT"
)

var (
	// ErrNoCapacity is returned by StartExport when every slot is busy;
	// QueueExport accepts the job instead.
	ErrNoCapacity = errors.New("no export capacity available")

	// ErrShuttingDown rejects new work after Shutdown has begun.
	ErrShuttingDown = errors.New("export service is shutting down")

	// ErrJobNotFound is returned for unknown or already swept job ids.
	ErrJobNotFound = errors.New("export job not found")
)

// ValidationError rejects bad options before any work starts.
type ValidationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// FetchError marks a data-source failure; the owning job ends failed.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch stage: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// FormatError marks a generator-side failure; the owning job ends failed.
type FormatError struct {
	Format string
	Err    error
}

func (e *FormatError) Error() string { return fmt.Sprintf("format stage (%s): %v", e.Format, e.Err) }
func (e *FormatError) Unwrap() error { return e.Err }

// CancellationError ends a job cancelled; it is not treated as failure.
type CancellationError struct {
	JobID string
}

func (e *CancellationError) Error() string { return fmt.Sprintf("export %s cancelled", e.JobID) }

// ResourceError marks a cleanup or temp-artifact failure. It is logged
// and never fails the owning job, which is already terminal.
type ResourceError struct {
	Path string
	Err  error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource cleanup %s: %v", e.Path, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }
