// Package queue provides the timer queue that schedules result expiries.
package queue

import (
	"errors"
	"time"
)

var (
	ErrInvalidTask = errors.New("invalid task")
	ErrQueueFull   = errors.New("queue is full")
	ErrTaskExists  = errors.New("task already queued")
)

// TaskStatus represents the lifecycle state of a queued task.
type TaskStatus int

const (
	TaskStatusPending TaskStatus = iota
	TaskStatusCanceled
)

// QueuedTask is a deferred unit of work ordered by its trigger time.
// The export tracker queues one per terminal job, triggering at the
// job's result expiry.
type QueuedTask struct {
	ID        string
	TriggerAt time.Time
	Data      any
	Status    TaskStatus
}
