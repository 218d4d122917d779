// Package errors adds slog annotations and a source location to errors.
//
// It is a drop-in replacement for the standard library errors package. Errors created with [Wrap] remember where
// they were wrapped and carry [slog.Attr] annotations that [SlogError] turns into structured log attributes.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
)

// ErrUnsupported re-exports [errors.ErrUnsupported].
var ErrUnsupported = errors.ErrUnsupported //nolint:errname // mirrors the standard library.

type annotatedError struct {
	msg         string
	cause       error
	annotations []slog.Attr
	// source is file:line of the call site that created the error. Empty for sentinels.
	source string
}

func (e *annotatedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	if e.msg == "" {
		return e.cause.Error()
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *annotatedError) Unwrap() error {
	return e.cause
}

// NewSentinel creates an error without a source location, intended for package-level sentinel values.
func NewSentinel(msg string) error {
	return &annotatedError{msg: msg, cause: nil, annotations: nil, source: ""}
}

// New creates an error annotated with the caller's source location.
func New(msg string, attrs ...slog.Attr) error {
	return &annotatedError{msg: msg, cause: nil, annotations: attrs, source: callerSource(2)} //nolint:mnd // caller.
}

// Wrap adds msg as context to err together with slog annotations.
//
// Wrapping a nil error yields an error containing only msg so that logging code never has to nil check.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	return &annotatedError{msg: msg, cause: err, annotations: attrs, source: callerSource(2)} //nolint:mnd // caller.
}

// DecoratePanic converts a recovered panic value to an error pointing at the panic site.
func DecoratePanic(recovered any) error {
	if recovered == nil {
		return nil
	}
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
	default:
		cause = NewSentinel(fmt.Sprint(v))
	}
	return &annotatedError{msg: "panic", cause: cause, annotations: nil, source: panicSource()}
}

// SlogError converts err into an "error" group containing the message, the merged annotations, and the innermost
// source location.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	var (
		annotations []any
		source      string
	)
	collect(err, func(ae *annotatedError) {
		for _, a := range ae.annotations {
			annotations = append(annotations, a)
		}
		if ae.source != "" {
			source = ae.source
		}
	})
	attrs := []any{slog.String("message", err.Error())}
	if len(annotations) > 0 {
		attrs = append(attrs, slog.Group("annotations", annotations...))
	}
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	return slog.Group("error", attrs...)
}

// collect walks the error tree, including joined errors, calling fn for every annotated error.
func collect(err error, fn func(*annotatedError)) {
	if err == nil {
		return
	}
	if ae, ok := err.(*annotatedError); ok { //nolint:errorlint // walking the tree manually.
		fn(ae)
	}
	switch u := err.(type) { //nolint:errorlint // walking the tree manually.
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			collect(e, fn)
		}
	case interface{ Unwrap() error }:
		collect(u.Unwrap(), fn)
	}
}

func callerSource(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return shortFile(file) + ":" + strconv.Itoa(line)
}

// panicSource finds the first frame below runtime.gopanic, which is where panic was called.
func panicSource() string {
	pcs := make([]uintptr, 32) //nolint:mnd // deep enough for any recover site.
	n := runtime.Callers(1, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	seenPanic := false
	for {
		frame, more := frames.Next()
		if frame.Function == "runtime.gopanic" {
			seenPanic = true
		} else if seenPanic && !strings.HasPrefix(frame.Function, "runtime.") {
			return shortFile(frame.File) + ":" + strconv.Itoa(frame.Line)
		}
		if !more {
			return ""
		}
	}
}

func shortFile(file string) string {
	if i := strings.LastIndex(file, "/"); i >= 0 {
		if j := strings.LastIndex(file[:i], "/"); j >= 0 {
			return file[j+1:]
		}
	}
	return file
}

// Is re-exports [errors.Is].
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As re-exports [errors.As].
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Unwrap re-exports [errors.Unwrap].
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join re-exports [errors.Join].
func Join(errs ...error) error {
	return errors.Join(errs...)
}
