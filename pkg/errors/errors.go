// Package errors provides structured error handling for plv8.
//
// Error codes follow a hierarchical scheme:
//   - 1xxx: Configuration errors
//   - 2xxx: Catalog errors
//   - 3xxx: Function definition/compilation errors
//   - 4xxx: Script execution errors
//   - 5xxx: Storage/stream errors
//   - 9xxx: Internal errors
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Code is a numeric error code for programmatic handling.
type Code int

// Error codes by category
const (
	// Configuration errors (1xxx)
	ErrCodeConfigInvalid Code = 1001
	ErrCodeConfigMissing Code = 1002
	ErrCodeConfigParse   Code = 1003

	// Catalog errors (2xxx)
	ErrCodeCatalogLookup    Code = 2001
	ErrCodeCatalogNotFound  Code = 2002
	ErrCodeCatalogCorrupt   Code = 2003
	ErrCodeCatalogWrite     Code = 2004
	ErrCodeCatalogAmbiguous Code = 2005

	// Function definition/compilation errors (3xxx)
	ErrCodeFuncCompile        Code = 3001
	ErrCodeFuncValidation     Code = 3002
	ErrCodeFuncUnsupportedArg Code = 3003
	ErrCodeFuncUnsupportedRet Code = 3004
	ErrCodeFuncTriggerArgs    Code = 3005
	ErrCodeFuncNotFound       Code = 3006

	// Script execution errors (4xxx)
	ErrCodeScriptException Code = 4001
	ErrCodeScriptResult    Code = 4002
	ErrCodeScriptStartProc Code = 4003
	ErrCodeScriptSubQuery  Code = 4004
	ErrCodeScriptInterrupt Code = 4005

	// Storage/stream errors (5xxx)
	ErrCodeStorageConnect Code = 5001
	ErrCodeStorageQuery   Code = 5002
	ErrCodeStorageExec    Code = 5003
	ErrCodeStorageTxn     Code = 5004
	ErrCodeStreamSetup    Code = 5005
	ErrCodeStreamAppend   Code = 5006
	ErrCodeConvert        Code = 5007

	// Internal errors (9xxx)
	ErrCodeInternal       Code = 9001
	ErrCodeNotImplemented Code = 9002
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
		return "catalog"
	case c >= 3000 && c < 4000:
		return "function"
	case c >= 4000 && c < 5000:
		return "script"
	case c >= 5000 && c < 6000:
		return "storage"
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
	Detail  string // Optional human-readable detail (e.g. script location)

	// Context
	Fields map[string]interface{}

	// Error chain
	Cause error

	Time   time.Time
	OpName string // Operation that failed (e.g. "ProcCache.Resolve")
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

// Format implements fmt.Formatter for detailed output.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "%s %s: %s\n",
				e.Time.Format(time.RFC3339),
				e.Code.String(),
				e.Message)

			if e.OpName != "" {
				fmt.Fprintf(f, "  Operation: %s\n", e.OpName)
			}
			if e.Detail != "" {
				fmt.Fprintf(f, "  Detail: %s\n", e.Detail)
			}
			if len(e.Fields) > 0 {
				fmt.Fprintf(f, "  Context:\n")
				for k, v := range e.Fields {
					fmt.Fprintf(f, "    %s: %v\n", k, v)
				}
			}
			if e.Cause != nil {
				fmt.Fprintf(f, "  Caused by: %v\n", e.Cause)
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

// Builder constructs errors fluently.
type Builder struct {
	code    Code
	message string
	detail  string
	cause   error
	fields  map[string]interface{}
	op      string
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

// WithCause adds a cause to the error.
func (b *Builder) WithCause(err error) *Builder {
	b.cause = err
	return b
}

// WithDetail sets the detail string.
func (b *Builder) WithDetail(detail string) *Builder {
	b.detail = detail
	return b
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

// Build creates the Error.
func (b *Builder) Build() *Error {
	return &Error{
		Code:    b.code,
		Message: b.message,
		Detail:  b.detail,
		Cause:   b.cause,
		Fields:  b.fields,
		OpName:  b.op,
		Time:    time.Now(),
	}
}

// Err is a shorthand for Build() that returns the error interface.
func (b *Builder) Err() error {
	return b.Build()
}

// Helper constructors for common error shapes

// NotFound creates a "not found" error for the given entity.
func NotFound(entity, identifier string) *Builder {
	return Newf(ErrCodeCatalogNotFound, "%s not found: %s", entity, identifier).
		WithField("entity", entity).
		WithField("identifier", identifier)
}

// Internal creates an internal error for unexpected conditions.
func Internal(msg string) *Builder {
	return New(ErrCodeInternal, msg)
}

// Extraction helpers

// GetCode extracts the error code from an error, or returns ErrCodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetDetail extracts the detail string from an error, if any.
func GetDetail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, category string) bool {
	return GetCode(err).Category() == category
}

// Standard library compatibility

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
