// Package apperr defines the error kinds surfaced to callers of the dispatch
// service and their HTTP and socket representations.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindUnauthorized      Kind = "Unauthorized"
	KindForbidden         Kind = "Forbidden"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindInvalidTransition Kind = "InvalidTransition"
	KindUpstreamFailure   Kind = "UpstreamFailure"
	KindInternal          Kind = "Internal"
)

// Error is a classified failure. Message is safe to show to clients; Err
// carries the underlying cause for logs and development responses.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.Conflict(""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func InvalidInput(message string) *Error      { return New(KindInvalidInput, message) }
func Unauthorized(message string) *Error      { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error         { return New(KindForbidden, message) }
func NotFound(message string) *Error          { return New(KindNotFound, message) }
func Conflict(message string) *Error          { return New(KindConflict, message) }
func InvalidTransition(message string) *Error { return New(KindInvalidTransition, message) }

func UpstreamFailure(message string, err error) *Error {
	return Wrap(KindUpstreamFailure, message, err)
}

func Internal(err error) *Error {
	return Wrap(KindInternal, "internal server error", err)
}

// KindOf classifies any error; unclassified errors are Internal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// From returns err as an *Error, wrapping unclassified errors as Internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Body is the wire shape of an error, used by both REST responses and
// socket error frames. Detail is only populated in development mode.
type Body struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func ToBody(err error, development bool) Body {
	appErr := From(err)
	body := Body{Kind: appErr.Kind, Message: appErr.Message}
	if development && appErr.Err != nil {
		body.Detail = appErr.Err.Error()
	}
	return body
}
