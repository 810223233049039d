package logging

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	workerIDKey  contextKey = "worker_id"
)

// WithSessionID adds a session ID to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithWorkerID adds the worker slot number to the context.
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// GetSessionID retrieves the session ID from the context.
// Returns empty string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}

// GetWorkerID retrieves the worker slot from the context.
// Returns -1 if not present.
func GetWorkerID(ctx context.Context) int {
	if id, ok := ctx.Value(workerIDKey).(int); ok {
		return id
	}
	return -1
}
