// Package brokererr defines the tagged error kinds the storage engine and
// request pipeline raise. Every kind is carried by the one *Error type,
// tagged with a Kind and a formatted message (and, optionally, a wrapped
// cause); callers switch on the kind with KindOf, which uses errors.As.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind identifies which of the broker's error categories an error belongs
// to. The processors map Kind to an HTTP status code; the storage engine
// also inspects it (Log retries an append after Full, segment recovery
// truncates on Corrupt or IO).
type Kind int

const (
	KindInvalidArgument Kind = iota
	KindNotFound
	KindExists
	KindCorrupt
	KindIO
	KindClosed
	KindFull
	KindBackpressure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindExists:
		return "Exists"
	case KindCorrupt:
		return "Corrupt"
	case KindIO:
		return "IO"
	case KindClosed:
		return "Closed"
	case KindFull:
		return "Full"
	case KindBackpressure:
		return "Backpressure"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried through the engine. Msg is
// human-readable detail; Err, when set, is the underlying cause (e.g. an
// *os.PathError) and is exposed through Unwrap.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func InvalidArgument(format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Exists(format string, args ...interface{}) *Error {
	return New(KindExists, fmt.Sprintf(format, args...))
}

func Corrupt(format string, args ...interface{}) *Error {
	return New(KindCorrupt, fmt.Sprintf(format, args...))
}

func IO(err error, format string, args ...interface{}) *Error {
	return Wrap(KindIO, fmt.Sprintf(format, args...), err)
}

func Closed(format string, args ...interface{}) *Error {
	return New(KindClosed, fmt.Sprintf(format, args...))
}

func Full(format string, args ...interface{}) *Error {
	return New(KindFull, fmt.Sprintf(format, args...))
}

func Backpressure(format string, args ...interface{}) *Error {
	return New(KindBackpressure, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
