package models

import "time"

type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows s -> next.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

type Session struct {
	ID           string        `gorm:"primaryKey;size:36" json:"id"`
	Status       SessionStatus `gorm:"size:16;not null;index" json:"status"`
	Progress     int           `gorm:"not null;default:0" json:"progress"`
	SourceName   string        `gorm:"size:512" json:"source_name,omitempty"`
	CodeLength   int           `json:"code_length"`
	ErrorMessage *string       `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	CompletedAt  *time.Time    `json:"completed_at"`

	CodeBlocks []CodeBlock `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// SessionStatusView is the cheap polling projection of a Session.
type SessionStatusView struct {
	Status   SessionStatus `json:"status"`
	Progress int           `json:"progress"`
}

// SessionSummary is one row of the sessions browser.
type SessionSummary struct {
	Session
	AnalysisCount int `json:"analysis_count"`
}

// SessionDetail is the full read model returned once a client wants results.
type SessionDetail struct {
	Session
	CodeBlocks      []CodeBlock      `json:"code_blocks"`
	Analyses        []AnalysisDetail `json:"analyses"`
	AnalysesVisible bool             `json:"analyses_visible"`
}

// Artifact is the raw model response recorded for one stage of one block.
type Artifact struct {
	BlockIndex int    `json:"block_index"`
	Stage      string `json:"stage"`
	Response   string `json:"response"`
}

// ArtifactList is only populated once the session is terminal.
type ArtifactList struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Visible   bool          `json:"artifacts_visible"`
	Artifacts []Artifact    `json:"artifacts"`
}

type ListOptions struct {
	Limit  int
	Offset int
	Status SessionStatus
}
