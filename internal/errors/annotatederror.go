package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// AnnotatedError includes more context than a plain error that is useful for troubleshooting.
type AnnotatedError struct {
	// msg is the error message.
	msg string
	// pc is the program counter for the location of the error provided by runtime.Callers.
	pc uintptr
	// attrs are slog attributes that are added to the log event to provide more context for the error.
	attrs []slog.Attr
}

// New creates a new AnnotatedError with the given message and attributes.
func New(msg string, attrs ...slog.Attr) AnnotatedError {
	return AnnotatedError{
		msg:   msg,
		pc:    callerPC(),
		attrs: attrs,
	}
}

// NewSentinel creates a plain error without other context that can be detected with errors.Is.
func NewSentinel(msg string) error {
	return errors.New(msg)
}

// Wrap is a convenience function for wrapping errors, e.g., adding context to a sentinel error.
func (err AnnotatedError) Wrap(cause error) error {
	return fmt.Errorf("%w: %w", err, cause)
}

// Error implements error interface.
func (err AnnotatedError) Error() string {
	return err.msg
}

// LogValue formats the error for useful logging.
func (err AnnotatedError) LogValue() slog.Value {
	return slog.GroupValue(append([]slog.Attr{sourceAttr(err.pc)}, err.attrs...)...)
}

// wrappedError annotates a cause with a message and slog attributes.
type wrappedError struct {
	AnnotatedError
	cause error
}

// Wrap annotates err with msg and attrs. The returned error matches err with [Is] and [As].
//
// Wrap returns nil if err is nil.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		AnnotatedError: AnnotatedError{
			msg:   msg,
			pc:    callerPC(),
			attrs: attrs,
		},
		cause: err,
	}
}

func (err *wrappedError) Error() string {
	return err.msg + ": " + err.cause.Error()
}

func (err *wrappedError) Unwrap() error {
	return err.cause
}

// SlogError returns an slog attribute with key "error" that contains the error message, the source location of the
// outermost annotation and the attributes of every annotation in the chain.
func SlogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	attrs := []slog.Attr{slog.String("message", err.Error())}
	sourceSet := false
	for current := err; current != nil; current = errors.Unwrap(current) {
		var annotated AnnotatedError
		switch e := current.(type) {
		case *wrappedError:
			annotated = e.AnnotatedError
		case AnnotatedError:
			annotated = e
		default:
			continue
		}
		if !sourceSet {
			attrs = append(attrs, sourceAttr(annotated.pc))
			sourceSet = true
		}
		attrs = append(attrs, annotated.attrs...)
	}
	return slog.Attr{Key: "error", Value: slog.GroupValue(attrs...)}
}

func callerPC() uintptr {
	var pcs [1]uintptr
	// Skip runtime.Callers, callerPC and the constructor.
	runtime.Callers(3, pcs[:])
	return pcs[0]
}

// sourceAttr retrieves the source location of the error so that developers can locate it faster.
func sourceAttr(pc uintptr) slog.Attr {
	frames := runtime.CallersFrames([]uintptr{pc})
	source, _ := frames.Next()
	return slog.String("source", fmt.Sprintf("%s:%d", source.File, source.Line))
}

// As exposes stdlib errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is exposes stdlib errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap exposes stdlib errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join exposes stdlib errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
