package logger

import (
	"context"
	"testing"
)

func TestJobIDContext(t *testing.T) {
	ctx := context.Background()
	if got := JobIDFromContext(ctx); got != "" {
		t.Errorf("Empty context should carry no job id, got %q", got)
	}

	ctx = WithJobID(ctx, "export_1_abc")
	if got := JobIDFromContext(ctx); got != "export_1_abc" {
		t.Errorf("Unexpected job id: %q", got)
	}
}

func TestFieldsFromPairs(t *testing.T) {
	fields := fieldsFromPairs([]any{"job_id", "x", "count", 3})
	if fields["job_id"] != "x" || fields["count"] != 3 {
		t.Errorf("Unexpected fields: %v", fields)
	}

	// A trailing key without a value is dropped.
	fields = fieldsFromPairs([]any{"orphan"})
	if len(fields) != 0 {
		t.Errorf("Dangling key should be ignored: %v", fields)
	}
}
