// Package source defines the data-source adapter boundary the export
// pipeline fetches records through, plus the built-in adapters.
package source

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/bluejazz822/networkdb-sub008/export/format"
)

var (
	ErrUnknownResource = errors.New("unknown resource type")
	ErrClosed          = errors.New("cursor is closed")
)

// Query describes what a job wants fetched. Filters carry equality-only
// semantics and are ANDed together.
type Query struct {
	ResourceType string
	Filters      map[string]any
	Limit        int // max records to fetch, 0 means unlimited
}

// Cursor pulls records in batches. Next returns up to batchSize records;
// an empty batch with a nil error means the source is exhausted.
type Cursor interface {
	Next(ctx context.Context, batchSize int) ([]format.Record, error)
	// Total returns the total record count when known up front, -1 otherwise.
	Total() int
	Close() error
}

// Adapter is the boundary the pipeline calls to fetch rows. Errors from
// Fetch or Cursor.Next surface as fetch-stage failures on the job.
type Adapter interface {
	Fetch(ctx context.Context, q Query) (Cursor, error)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent guards resource/column names interpolated into SQL.
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// matchesFilters applies equality-AND filter semantics to one record.
func matchesFilters(record format.Record, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := record[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
