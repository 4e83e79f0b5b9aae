package sessions

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTooManySessions = errors.New("too many open sessions")
	ErrRegistryClosed  = errors.New("session registry is shut down")
	ErrMissingWorkflow = errors.New("workflow id is required")
)
