package provider

import (
	"errors"
	"fmt"
)

// ErrNotStarted reports a send on a stream whose upstream task has not
// been acknowledged yet (or whose connection already dropped). The
// engine treats this class as recoverable and reconnects once.
var ErrNotStarted = errors.New("provider: stream not started")

// Error is a structured failure reported by the provider.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("provider: %s - %s (http_status=%d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("provider: %s - %s", e.Code, e.Message)
}

// AsError attempts to cast err to *Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
