package client

import (
	"errors"
	"fmt"
)

// Stage names one of the three pipeline calls.
type Stage string

const (
	StageDetect    Stage = "detect"
	StageRemediate Stage = "remediate"
	StageVerify    Stage = "verify"
)

// TransientExternalError covers transport failures, timeouts and empty completions.
type TransientExternalError struct {
	Stage Stage
	Err   error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("external service unavailable: %v", e.Err)
}

func (e *TransientExternalError) Unwrap() error { return e.Err }

// MalformedResponseError means the completion did not match the stage's response schema.
type MalformedResponseError struct {
	Stage  Stage
	Reason string
	Raw    string
}

func (e *MalformedResponseError) Error() string {
	return "response could not be parsed: " + e.Reason
}

// RefusalError means the model answered but declined to do the task.
type RefusalError struct {
	Stage  Stage
	Reason string
}

func (e *RefusalError) Error() string {
	return "model refused the request: " + e.Reason
}

// Retryable reports whether a stage should be attempted again after err.
func Retryable(err error) bool {
	var transient *TransientExternalError
	var malformed *MalformedResponseError
	return errors.As(err, &transient) || errors.As(err, &malformed)
}
