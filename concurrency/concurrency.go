// Package concurrency bounds the number of exports running at once.
package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Manager hands out slots for concurrently active exports.
type Manager struct {
	maxConcurrent int32
	current       atomic.Int32
	semaphore     chan struct{}

	totalAdmissions atomic.Int64
	rejectedCount   atomic.Int64
}

// NewManager creates a manager allowing up to max concurrent holders.
func NewManager(max int32) (*Manager, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive, got: %d", max)
	}

	return &Manager{
		maxConcurrent: max,
		semaphore:     make(chan struct{}, max),
	}, nil
}

// Acquire blocks until a slot is free or the context ends.
func (m *Manager) Acquire(ctx context.Context) error {
	select {
	case m.semaphore <- struct{}{}:
		m.current.Add(1)
		m.totalAdmissions.Add(1)
		return nil
	case <-ctx.Done():
		m.rejectedCount.Add(1)
		return fmt.Errorf("failed to acquire export slot: %w", ctx.Err())
	}
}

// TryAcquire attempts to take a slot without blocking.
func (m *Manager) TryAcquire() bool {
	select {
	case m.semaphore <- struct{}{}:
		m.current.Add(1)
		m.totalAdmissions.Add(1)
		return true
	default:
		m.rejectedCount.Add(1)
		return false
	}
}

// Release returns a slot.
func (m *Manager) Release() {
	select {
	case <-m.semaphore:
		m.current.Add(-1)
	default:
		panic("attempting to release more slots than acquired")
	}
}

// Available returns the number of free slots.
func (m *Manager) Available() int32 {
	return m.maxConcurrent - m.current.Load()
}

// GetMetrics returns current metrics.
func (m *Manager) GetMetrics() map[string]int64 {
	return map[string]int64{
		"current":          int64(m.current.Load()),
		"total_admissions": m.totalAdmissions.Load(),
		"rejected_count":   m.rejectedCount.Load(),
	}
}
