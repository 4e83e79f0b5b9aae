package http

import (
	"errors"
	"fmt"
)

// APIError is a failure reported by the workflow API, either through a
// non-zero envelope code or an HTTP error status.
type APIError struct {
	Path   string
	Status int
	Code   int64
	Msg    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("workflow api %s: code %d: %s", e.Path, e.Code, e.Msg)
	}
	return fmt.Sprintf("workflow api %s: status %d: %s", e.Path, e.Status, e.Msg)
}

// AsAPIError unwraps err to an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
