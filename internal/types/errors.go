package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the chat client and relay.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindTransport  ErrorKind = "transport"
	KindAuth       ErrorKind = "auth"
	KindUpstream   ErrorKind = "upstream"
	KindBusy       ErrorKind = "busy"
)

// Error is a classified failure. Status carries the HTTP status when the
// failure came from a response.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrTransport  = &Error{Kind: KindTransport}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrUpstream   = &Error{Kind: KindUpstream}
	ErrBusy       = &Error{Kind: KindBusy}
)

// NewError creates a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// StatusError creates a classified error for an HTTP response status.
func StatusError(kind ErrorKind, status int, message string) *Error {
	return &Error{Kind: kind, Status: status, Message: message}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Classify returns err unchanged when it is already classified. Context
// cancellation and deadlines become transport errors; anything else gets
// the fallback kind.
func Classify(err error, fallback ErrorKind) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTransport, "", err)
	}
	return NewError(fallback, "", err)
}
