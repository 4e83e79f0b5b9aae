package memory

import "errors"

// ErrClosed is returned when subscribing to a closed bus
var ErrClosed = errors.New("event bus closed")
