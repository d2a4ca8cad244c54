// Package apperr defines the error taxonomy shared across the gateway:
// Config, Storage, Network, ToolExecution, Authorization, Parsing, Timeout.
// Call sites branch on kind with errors.Is/errors.As instead of string
// matching.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags one of the taxonomy's error classes.
type Kind string

const (
	Config        Kind = "config"
	Storage       Kind = "storage"
	Network       Kind = "network"
	ToolExecution Kind = "tool_execution"
	Authorization Kind = "authorization"
	Parsing       Kind = "parsing"
	Timeout       Kind = "timeout"
	IO            Kind = "io"
)

// Error wraps an underlying cause with a taxonomy Kind and a short message.
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

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperr.IsConfig) (and the other Is* sentinels)
// to match any *Error of that kind, by comparing kinds with the sentinel.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return string(k.kind) }

// sentinels usable with errors.Is(err, apperr.IsConfig) etc.
var (
	IsConfig        error = &kindSentinel{Config}
	IsStorage       error = &kindSentinel{Storage}
	IsNetwork       error = &kindSentinel{Network}
	IsToolExecution error = &kindSentinel{ToolExecution}
	IsAuthorization error = &kindSentinel{Authorization}
	IsParsing       error = &kindSentinel{Parsing}
	IsTimeout       error = &kindSentinel{Timeout}
	IsIO            error = &kindSentinel{IO}
)

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Newf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; ok is false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
