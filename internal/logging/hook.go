package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook copies session_id and worker_id from the event context onto the log line.
type ContextHook struct{}

func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil || ctx == context.Background() {
		return
	}

	if sessionID := GetSessionID(ctx); sessionID != "" {
		e.Str("session_id", sessionID)
	}
	if workerID := GetWorkerID(ctx); workerID >= 0 {
		e.Int("worker_id", workerID)
	}
}
