package speech

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced by engine operations.
type Kind int

const (
	KindUnknown Kind = iota
	KindConflict
	KindNotFound
	KindValidation
	KindUpstream
	KindDevice
)

// Error is a classified engine failure. The HTTP layer maps Kind to a
// status code; everything else travels in Message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Conflictf(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

func Upstreamf(err error, format string, args ...any) *Error {
	return newError(KindUpstream, err, format, args...)
}

func Devicef(err error, format string, args ...any) *Error {
	return newError(KindDevice, err, format, args...)
}

// KindOf extracts the classification from err, KindUnknown when err is
// not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error to the status code the external surface
// reports: 400 conflict/validation, 404 not-found, 500 everything else.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConflict, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
