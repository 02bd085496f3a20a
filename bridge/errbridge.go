// Package bridge implements the embedding bridge between the host database
// and the goja script engine: the procedure cache, per-principal global
// namespaces, transaction-scoped execution environments, the invocation
// dispatcher and the error bridge between the two failure domains.
package bridge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"

	plverrors "github.com/Ginden/plv8/pkg/errors"
)

// ScriptError is a failure originating inside the script engine: a compile
// error, a runtime exception, or a malformed return shape. The reported line
// number is already corrected for the synthetic wrapper header.
type ScriptError struct {
	Message    string
	Script     string
	Line       int
	SourceLine string
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return e.Message
}

// Detail formats the origin information, or returns "" when none was
// captured.
func (e *ScriptError) Detail() string {
	if e.Line <= 0 {
		return ""
	}
	script := e.Script
	if script == "" {
		script = "?"
	}
	src := e.SourceLine
	if src == "" {
		src = "?"
	}
	return fmt.Sprintf("%s() LINE %d: %s", script, e.Line, src)
}

// Rethrow converts the script failure into the host's structured error
// channel. It is the terminal operation on a ScriptError; callers return
// its result directly.
func (e *ScriptError) Rethrow() error {
	b := plverrors.New(plverrors.ErrCodeScriptException, e.Message).
		WithCause(e)
	if d := e.Detail(); d != "" {
		b = b.WithDetail(d)
	}
	return b.Err()
}

func scriptErrorf(format string, args ...interface{}) *ScriptError {
	return &ScriptError{Message: fmt.Sprintf(format, args...)}
}

// HostError is a failure originating on the host side (catalog lookup,
// sub-query execution, tuple-store setup), captured inside a protected
// region so the actual re-raise happens outside any script-engine cleanup.
type HostError struct {
	Cause error
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return e.Cause.Error()
}

// Unwrap exposes the original host error to errors.Is/As.
func (e *HostError) Unwrap() error {
	return e.Cause
}

// Rethrow re-raises the original host error unmodified, preserving its
// payload and unwind semantics.
func (e *HostError) Rethrow() error {
	return e.Cause
}

// captureHostError wraps a host-side failure for deferred re-raise. A nil
// error passes through as nil.
func captureHostError(err error) error {
	if err == nil {
		return nil
	}
	return &HostError{Cause: err}
}

// hostPanic carries a captured host error across the script engine's stack.
// Native capability functions panic with it so the unwind cannot be caught
// by script-level try/catch; the execution environment's call wrapper
// recovers it.
type hostPanic struct {
	err error
}

// rethrow maps any error leaving an entry point onto the bridge's two
// failure domains. Every public entry point calls it exactly once, at its
// outermost layer; nothing below attempts recovery.
func rethrow(err error) error {
	if err == nil {
		return nil
	}

	var se *ScriptError
	if plverrors.As(err, &se) {
		return se.Rethrow()
	}

	var he *HostError
	if plverrors.As(err, &he) {
		return he.Rethrow()
	}

	// Anything else crossed the boundary unclassified; treat it as a host
	// failure and preserve it verbatim.
	return (&HostError{Cause: err}).Rethrow()
}

// scriptLocation matches "name:line:column" position markers in goja error
// messages and stack renderings.
var scriptLocation = regexp.MustCompile(`([^\s()<>]+):(\d+):(\d+)`)

// newScriptError builds a ScriptError from a goja compile or invocation
// error, extracting the origin script, line and source line where goja
// reports them. wrapperSource is the synthesized source the error occurred
// in; the reported line is decremented by one to account for the synthetic
// wrapper header.
func newScriptError(err error, wrapperSource string) *ScriptError {
	se := &ScriptError{Message: err.Error()}

	var rendered string
	switch ex := err.(type) {
	case *goja.Exception:
		if v := ex.Value(); v != nil {
			if obj, ok := v.(*goja.Object); ok {
				if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
					se.Message = msg.String()
				}
			} else {
				se.Message = v.String()
			}
		}
		rendered = ex.String()
	default:
		rendered = err.Error()
	}

	// Trim a leading "Error: " in case the message came from another Error.
	se.Message = strings.TrimPrefix(se.Message, "Error: ")

	if m := scriptLocation.FindStringSubmatch(rendered); m != nil {
		se.Script = m[1]
		rawLine := atoi(m[2])
		// The synthetic "(function (...){" header occupies line one.
		se.Line = rawLine - 1
		se.SourceLine = sourceLineAt(wrapperSource, rawLine)
	}

	return se
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// sourceLineAt returns the text of the given 1-based line in src, or "".
func sourceLineAt(src string, line int) string {
	if line <= 0 || src == "" {
		return ""
	}
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}
