package orchestrator

import (
	"errors"
	"fmt"
)

// Error kinds. Compare with errors.Is.
var (
	// ErrValidation means the graph failed pre-run checks; nothing was sent.
	ErrValidation = errors.New("validation failed")
	// ErrTrigger means the start call failed, so no execution exists.
	ErrTrigger = errors.New("trigger failed")
	// ErrRun means the backend reported the execution as failed.
	ErrRun = errors.New("run failed")
	// ErrSystem means polling itself broke (transport, decoding).
	ErrSystem = errors.New("system error")

	ErrRunActive       = errors.New("a run is already active")
	ErrDocumentSaving  = errors.New("document is saving")
	ErrNoProject       = errors.New("trigger runs require a project")
	ErrEmptyExecuteID  = errors.New("backend returned no execute id")
	ErrNodeNotFound    = errors.New("node not found in graph")
	ErrNoExecuteID     = errors.New("no execute id")
	ErrManagerDisposed = errors.New("orchestrator disposed")
)

// Error carries the operation and execution a failure belongs to
type Error struct {
	Op        string // Operation name
	Kind      error  // One of the kind sentinels
	ExecuteID string
	Reason    string // Backend reason or system error message
	Err       error  // Underlying error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.ExecuteID != "" {
		msg += fmt.Sprintf(" (execute_id=%s)", e.ExecuteID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// IsTriggerError reports whether err means the run never started
func IsTriggerError(err error) bool {
	return errors.Is(err, ErrTrigger)
}

// IsClientError reports whether err was caused by the caller rather than the backend
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrRunActive) ||
		errors.Is(err, ErrDocumentSaving) ||
		errors.Is(err, ErrNoProject) ||
		errors.Is(err, ErrNodeNotFound) ||
		errors.Is(err, ErrNoExecuteID)
}

func newError(op string, kind error, executeID, reason string, err error) *Error {
	return &Error{
		Op:        op,
		Kind:      kind,
		ExecuteID: executeID,
		Reason:    reason,
		Err:       err,
	}
}
