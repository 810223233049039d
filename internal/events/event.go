package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarn    EventType = "warn"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// Event names.
const (
	SessionTransition = "session:transition"
	SessionProgress   = "session:progress"
	StageAttempt      = "pipeline:stage"
	QueueDepth        = "queue:depth"
	TokenUsage        = "llm:usage"
)

// Outcome of a stage attempt.
const (
	OutcomeSuccess   = "success"
	OutcomeRetry     = "retry"
	OutcomeExhausted = "exhausted"
	OutcomeRefused   = "refused"
	OutcomeAborted   = "aborted"
)

// Event is a pipeline notification. Only the fields relevant to Name are set.
type Event struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        EventType     `json:"type"`
	Message     string        `json:"message,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	SessionID   string        `json:"session_id,omitempty"`
	Status      string        `json:"status,omitempty"`
	Progress    int           `json:"progress,omitempty"`
	Block       int           `json:"block,omitempty"`
	TotalBlocks int           `json:"total_blocks,omitempty"`
	Stage       string        `json:"stage,omitempty"`
	Attempt     int           `json:"attempt,omitempty"`
	Outcome     string        `json:"outcome,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Depth       int           `json:"depth,omitempty"`

	Model            string `json:"model,omitempty"`
	PromptTokens     int    `json:"prompt_tokens,omitempty"`
	CompletionTokens int    `json:"completion_tokens,omitempty"`
}

func newEvent(name string, eventType EventType, message string) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewTransition creates a session transition event. Failed transitions are errors.
func NewTransition(sessionID, status, message string) Event {
	t := EventInfo
	switch status {
	case "completed":
		t = EventSuccess
	case "failed":
		t = EventError
	}
	e := newEvent(SessionTransition, t, message)
	e.SessionID = sessionID
	e.Status = status
	return e
}

func NewProgress(sessionID string, progress int) Event {
	e := newEvent(SessionProgress, EventInfo, "")
	e.SessionID = sessionID
	e.Progress = progress
	return e
}

// NewStageAttempt describes one call of a pipeline stage for a block (1-based).
func NewStageAttempt(sessionID, stage string, block, total, attempt int, outcome string, took time.Duration, message string) Event {
	t := EventInfo
	switch outcome {
	case OutcomeRetry:
		t = EventWarn
	case OutcomeExhausted, OutcomeRefused:
		t = EventError
	case OutcomeSuccess:
		t = EventSuccess
	}
	e := newEvent(StageAttempt, t, message)
	e.SessionID = sessionID
	e.Stage = stage
	e.Block = block
	e.TotalBlocks = total
	e.Attempt = attempt
	e.Outcome = outcome
	e.Duration = took
	return e
}

func NewQueueDepth(depth int) Event {
	e := newEvent(QueueDepth, EventInfo, "")
	e.Depth = depth
	return e
}

// NewTokenUsage reports the tokens one model call consumed.
func NewTokenUsage(sessionID, stage, model string, prompt, completion int) Event {
	e := newEvent(TokenUsage, EventInfo, "")
	e.SessionID = sessionID
	e.Stage = stage
	e.Model = model
	e.PromptTokens = prompt
	e.CompletionTokens = completion
	return e
}
