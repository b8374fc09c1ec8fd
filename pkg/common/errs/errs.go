// Package errs carries the error taxonomy shared by the orchestration
// core and the HTTP layer. Every failure a caller can act on is tagged
// with a Kind; the handler boundary maps kinds to response codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// KindInternal is the default for untagged failures.
	KindInternal Kind = iota
	// KindInvalid marks a request that fails basic validation.
	KindInvalid
	// KindNotFound marks a missing entity.
	KindNotFound
	// KindUnauthorized marks an actor lacking ownership or admin rights.
	KindUnauthorized
	// KindConflict marks an illegal state transition or failed precondition.
	KindConflict
	// KindGateway marks an unreachable or erroneous external service.
	KindGateway
	// KindMalformed marks a callback payload failing shape checks.
	KindMalformed
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Invalid(format string, args ...interface{}) *Error {
	return New(KindInvalid, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, format, args...)
}

func Gateway(err error, format string, args ...interface{}) *Error {
	return Wrap(KindGateway, err, format, args...)
}

func Malformed(format string, args ...interface{}) *Error {
	return New(KindMalformed, format, args...)
}

// KindOf unwraps err down to the first tagged error, defaulting to
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to the status code the API returns.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid, KindMalformed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
