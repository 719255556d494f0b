package llm

import "errors"

// ErrUnavailable marks a missing or failed backend dependency (binary not
// built in, daemon unreachable, process exited).
var ErrUnavailable = errors.New("backend unavailable")

// ErrClosed is returned by Generate after Close.
var ErrClosed = errors.New("session closed")
