package services

import (
	"fmt"

	"rustsentry/internal/models"
)

// ValidationError rejects a submission before anything is persisted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.ID)
}

// InvalidTransitionError is returned for a move the session state machine does not allow,
// including progress updates on a terminal session.
type InvalidTransitionError struct {
	ID   string
	From models.SessionStatus
	To   models.SessionStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("session %s is %s and can no longer be updated", e.ID, e.From)
	}
	return fmt.Sprintf("session %s cannot move from %s to %s", e.ID, e.From, e.To)
}
