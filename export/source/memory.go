package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

// MemoryAdapter serves records from in-process datasets keyed by
// resource type. It backs tests and the CLI's built-in sample data.
type MemoryAdapter struct {
	mu       sync.RWMutex
	datasets map[string][]format.Record
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{datasets: make(map[string][]format.Record)}
}

// Load replaces the dataset for a resource type.
func (a *MemoryAdapter) Load(resourceType string, records []format.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.datasets[resourceType] = records
}

// Fetch returns a cursor over the filtered dataset.
func (a *MemoryAdapter) Fetch(ctx context.Context, q Query) (Cursor, error) {
	a.mu.RLock()
	records, ok := a.datasets[q.ResourceType]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, q.ResourceType)
	}

	var filtered []format.Record
	for _, record := range records {
		if matchesFilters(record, q.Filters) {
			filtered = append(filtered, record)
			if q.Limit > 0 && len(filtered) >= q.Limit {
				break
			}
		}
	}

	return &memoryCursor{records: filtered}, nil
}

type memoryCursor struct {
	records []format.Record
	pos     int
	closed  bool
}

func (c *memoryCursor) Next(ctx context.Context, batchSize int) ([]format.Record, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.records) {
		return nil, nil
	}

	end := c.pos + batchSize
	if batchSize <= 0 || end > len(c.records) {
		end = len(c.records)
	}
	batch := c.records[c.pos:end]
	c.pos = end
	return batch, nil
}

func (c *memoryCursor) Total() int { return len(c.records) }

func (c *memoryCursor) Close() error {
	c.closed = true
	return nil
}
