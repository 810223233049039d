package events

import (
	"context"

	"github.com/rs/zerolog"

	"rustsentry/internal/logging"
)

// LogEmitter writes events to zerolog, picking the level from the event type.
type LogEmitter struct {
	log zerolog.Logger
}

func NewLogEmitter() *LogEmitter {
	return &LogEmitter{log: logging.Component("events")}
}

func (l *LogEmitter) Emit(ctx context.Context, evt Event) {
	var e *zerolog.Event
	switch evt.Type {
	case EventError:
		e = l.log.Error()
	case EventWarn:
		e = l.log.Warn()
	case EventSuccess, EventInfo:
		e = l.log.Info()
	default:
		e = l.log.Debug()
	}
	// progress and depth updates are chatty
	if evt.Name == SessionProgress || evt.Name == QueueDepth || evt.Name == TokenUsage {
		e = l.log.Debug()
	}

	e = e.Ctx(ctx).Str("event", evt.Name)
	if evt.SessionID != "" && logging.GetSessionID(ctx) == "" {
		e = e.Str("session_id", evt.SessionID)
	}
	switch evt.Name {
	case SessionTransition:
		e = e.Str("status", evt.Status)
	case SessionProgress:
		e = e.Int("progress", evt.Progress)
	case StageAttempt:
		e = e.Str("stage", evt.Stage).
			Int("block", evt.Block).
			Int("total_blocks", evt.TotalBlocks).
			Int("attempt", evt.Attempt).
			Str("outcome", evt.Outcome).
			Dur("duration", evt.Duration)
	case QueueDepth:
		e = e.Int("depth", evt.Depth)
	case TokenUsage:
		e = e.Str("stage", evt.Stage).
			Str("model", evt.Model).
			Int("prompt_tokens", evt.PromptTokens).
			Int("completion_tokens", evt.CompletionTokens)
	}
	e.Msg(evt.Message)
}
