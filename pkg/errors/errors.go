// Package errors provides structured error handling for sqlext.
//
// Every failure that can reach the host boundary carries a Code. The
// extension layer reduces any error to a single status value, so the code and
// the context fields are what ends up in the diagnostic log.
//
// Error codes follow a hierarchical scheme:
//   - 1xxx: Configuration errors
//   - 2xxx: Argument and type catalog errors
//   - 3xxx: Wire format errors
//   - 4xxx: Loader errors
//   - 5xxx: Session and execution errors
//   - 9xxx: Internal errors
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code is a numeric error code for programmatic handling.
type Code int

// Error codes by category
const (
	// Configuration errors (1xxx)
	ErrCodeConfigInvalid Code = 1001
	ErrCodeConfigParse   Code = 1002

	// Argument and type errors (2xxx)
	ErrCodeInvalidArgument Code = 2001
	ErrCodeUnknownType     Code = 2002
	ErrCodeTypeMismatch    Code = 2003

	// Wire format errors (3xxx)
	ErrCodeBufferOverrun Code = 3001
	ErrCodeMalformed     Code = 3002

	// Loader errors (4xxx)
	ErrCodeNotFound      Code = 4001
	ErrCodeModuleLoad    Code = 4002
	ErrCodeInstantiation Code = 4003

	// Session and execution errors (5xxx)
	ErrCodeInvalidState    Code = 5001
	ErrCodeInvocation      Code = 5002
	ErrCodeSessionNotFound Code = 5003
	ErrCodeSessionExists   Code = 5004

	// Internal errors (9xxx)
	ErrCodeInternal       Code = 9001
	ErrCodeNotImplemented Code = 9002
	ErrCodePanic          Code = 9003
)

// String returns the error code as a string.
func (c Code) String() string {
	return fmt.Sprintf("E%04d", c)
}

// Category returns the category for this code.
func (c Code) Category() string {
	switch {
	case c >= 1000 && c < 2000:
		return "configuration"
	case c >= 2000 && c < 3000:
		return "argument"
	case c >= 3000 && c < 4000:
		return "wire"
	case c >= 4000 && c < 5000:
		return "loader"
	case c >= 5000 && c < 6000:
		return "session"
	case c >= 9000:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a structured error with code, context, and optional cause.
type Error struct {
	Code    Code
	Message string

	// Context
	Fields map[string]interface{}

	// Error chain
	Cause error

	// Debug information
	Stack  []Frame
	Time   time.Time
	OpName string // Operation that failed (e.g., "Wire.Decode", "Session.Execute")
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var buf strings.Builder

	buf.WriteString(e.Code.String())
	buf.WriteString(": ")
	buf.WriteString(e.Message)

	if e.Cause != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Cause.Error())
	}

	return buf.String()
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Format implements fmt.Formatter. %+v prints the operation, the context
// fields and the captured stack, if any.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "%s %s: %s\n", e.Time.Format(time.RFC3339), e.Code, e.Message)
			if e.OpName != "" {
				fmt.Fprintf(f, "  Operation: %s\n", e.OpName)
			}
			for k, v := range e.Fields {
				fmt.Fprintf(f, "  %s: %v\n", k, v)
			}
			if e.Cause != nil {
				fmt.Fprintf(f, "  Caused by: %v\n", e.Cause)
			}
			for _, frame := range e.Stack {
				fmt.Fprintf(f, "    %s\n      %s:%d\n", frame.Function, frame.File, frame.Line)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(f, e.Error())
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// Builder helps construct errors fluently.
type Builder struct {
	code    Code
	message string
	cause   error
	fields  map[string]interface{}
	op      string
	stack   bool
}

// New starts building a new error with the given code.
func New(code Code, message string) *Builder {
	return &Builder{code: code, message: message}
}

// Newf starts building a new error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Builder {
	return &Builder{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code Code, message string) *Builder {
	return &Builder{code: code, message: message, cause: cause}
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, code Code, format string, args ...interface{}) *Builder {
	return &Builder{code: code, message: fmt.Sprintf(format, args...), cause: cause}
}

// WithField adds a context field.
func (b *Builder) WithField(key string, value interface{}) *Builder {
	if b.fields == nil {
		b.fields = make(map[string]interface{})
	}
	b.fields[key] = value
	return b
}

// WithOp sets the operation name.
func (b *Builder) WithOp(op string) *Builder {
	b.op = op
	return b
}

// WithStack captures a stack trace.
func (b *Builder) WithStack() *Builder {
	b.stack = true
	return b
}

// Build creates the Error.
func (b *Builder) Build() *Error {
	e := &Error{
		Code:    b.code,
		Message: b.message,
		Cause:   b.cause,
		Fields:  b.fields,
		OpName:  b.op,
		Time:    time.Now(),
	}
	if b.stack {
		e.Stack = captureStack(2)
	}
	return e
}

// Err is a shorthand for Build() that returns error interface.
func (b *Builder) Err() error {
	return b.Build()
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	callersFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callersFrames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			frames = append(frames, Frame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// Helpers for the failure kinds that cross the host boundary.

// InvalidArgument reports a bad ordinal, name or missing value.
func InvalidArgument(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeInvalidArgument, format, args...)
}

// UnknownType reports a type tag outside the closed catalog.
func UnknownType(code int16) *Builder {
	return Newf(ErrCodeUnknownType, "unknown data type %d", code).WithField("type", code)
}

// NotImplemented reports a type or feature with no handler for the operation.
func NotImplemented(feature string) *Builder {
	return Newf(ErrCodeNotImplemented, "%s has not been implemented", feature).
		WithField("feature", feature)
}

// BufferOverrun reports length-map arithmetic that would read past a buffer.
func BufferOverrun(column string, need, have int) *Builder {
	return Newf(ErrCodeBufferOverrun, "column %s: need %d bytes, buffer holds %d", column, need, have).
		WithField("column", column).
		WithField("need", need).
		WithField("have", have)
}

// ValueOverrun reports a scalar value shorter than its declared length.
func ValueOverrun(need, have int) *Builder {
	return Newf(ErrCodeBufferOverrun, "value needs %d bytes, buffer holds %d", need, have).
		WithField("need", need).
		WithField("have", have)
}

// NotFound creates a "not found" error for the given entity.
func NotFound(entity, identifier string) *Builder {
	return Newf(ErrCodeNotFound, "%s not found: %s", entity, identifier).
		WithField("entity", entity).
		WithField("identifier", identifier)
}

// InvalidState reports a call issued out of sequence.
func InvalidState(op, state string) *Builder {
	return Newf(ErrCodeInvalidState, "%s is not allowed in state %s", op, state).
		WithOp(op).
		WithField("state", state)
}

// Internal creates an internal error (for unexpected conditions).
func Internal(msg string) *Builder {
	return New(ErrCodeInternal, msg).WithStack()
}

// GetCode extracts the error code from an error, or returns ErrCodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetFields extracts context fields from an error.
func GetFields(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return err != nil && GetCode(err) == code
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, category string) bool {
	return GetCode(err).Category() == category
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
