package logger

import "context"

type contextKey string

const jobIDKey contextKey = "job_id"

// WithJobID attaches an export job id to the context so every log line
// emitted while running the job carries it.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobIDFromContext returns the job id carried by the context, if any.
func JobIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}
