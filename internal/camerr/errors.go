// Package camerr defines the error taxonomy shared by the capture pipeline.
//
// Every error returned by the registry and the pipeline stages wraps one of
// the sentinel kinds below, so callers can branch with errors.Is:
//
//	if errors.Is(err, camerr.ErrResourceExhausted) { ... }
package camerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds.
var (
	// ErrInvalidArgument covers unknown stream ids, unsupported formats or
	// resolutions, and malformed requests rejected synchronously.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when a stream category is at its limit.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrFailedPrecondition is returned when releasing a stream that is still
	// referenced by the pipeline.
	ErrFailedPrecondition = errors.New("failed precondition")

	// ErrUnrecoverable marks failures that halt a pipeline worker: queue
	// overflow, buffer acquisition failures, requests missing required
	// fields and result metadata build failures.
	ErrUnrecoverable = errors.New("unrecoverable")
)

// Error carries the failing operation alongside its kind.
type Error struct {
	Op   string // operation, e.g. "allocate_stream"
	Kind error  // one of the sentinel kinds
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// New builds an Error with a formatted cause.
func New(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap builds an Error around an existing cause.
func Wrap(op string, kind error, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// InvalidArgument is shorthand for New(op, ErrInvalidArgument, ...).
func InvalidArgument(op, format string, args ...any) error {
	return New(op, ErrInvalidArgument, format, args...)
}

// Unrecoverable is shorthand for New(op, ErrUnrecoverable, ...).
func Unrecoverable(op, format string, args ...any) error {
	return New(op, ErrUnrecoverable, format, args...)
}

// KindOf returns the sentinel kind of err, or nil when err carries none.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidArgument, ErrResourceExhausted, ErrFailedPrecondition, ErrUnrecoverable} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
