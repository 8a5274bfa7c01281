// Package apperr defines the error taxonomy shared by provisioning, binding
// and the numeric façade.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every typed error below matches exactly one of these with
// errors.Is.
var (
	ErrFetch      = errors.New("fetch error")
	ErrBuild      = errors.New("build error")
	ErrBinding    = errors.New("binding error")
	ErrNativeCall = errors.New("native call error")
	ErrValidation = errors.New("validation error")
	ErrResource   = errors.New("resource error")
)

// FetchError reports that the library source could not be retrieved at the
// pinned revision.
type FetchError struct {
	URL      string
	Revision string
	Output   string
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s@%s", e.URL, shortRev(e.Revision))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := tail(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *FetchError) Unwrap() []error { return chain(ErrFetch, e.Err) }

// BuildError reports a failed patch or native build step.
type BuildError struct {
	Library  string
	Step     string
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("build %s: %s", e.Library, e.Step)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit status %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if out := tail(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *BuildError) Unwrap() []error { return chain(ErrBuild, e.Err) }

// BindingError reports an inconsistency between the binding layer and the
// loaded library: a missing symbol, a malformed prototype, or a return code
// with no entry in the code table. It always denotes a bug or a broken
// install, never bad user input.
type BindingError struct {
	Library string
	Symbol  string
	Msg     string
	Err     error
}

func (e *BindingError) Error() string {
	var b strings.Builder
	b.WriteString("binding ")
	b.WriteString(e.Library)
	if e.Symbol != "" {
		b.WriteString(".")
		b.WriteString(e.Symbol)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BindingError) Unwrap() []error { return chain(ErrBinding, e.Err) }

// NativeCallError is a documented non-success return code from a native
// entry point.
type NativeCallError struct {
	Library  string
	Function string
	Code     int32
	Name     string
	Detail   string
}

func (e *NativeCallError) Error() string {
	msg := fmt.Sprintf("%s: %s returned %s (%d)", e.Library, e.Function, e.Name, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *NativeCallError) Unwrap() error { return ErrNativeCall }

// ValidationError reports caller input that violates a shape or size
// contract. It is always raised before any native call.
type ValidationError struct {
	Op   string
	Args []string
	Msg  string
}

func (e *ValidationError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, strings.Join(e.Args, ", "), e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(op, msg string, args ...string) error {
	return &ValidationError{Op: op, Args: args, Msg: msg}
}

// ResourceError reports an operation on an absent or destroyed handle.
type ResourceError struct {
	Resource string
	Msg      string
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Resource, e.Msg)
}

func (e *ResourceError) Unwrap() error { return ErrResource }

// Class groups errors by who has to act on them.
type Class string

const (
	ClassNone        Class = ""
	ClassInput       Class = "input"
	ClassEnvironment Class = "environment"
	ClassBug         Class = "bug"
)

// ClassOf tells apart "fix your input", "fix your environment" and
// "library bug". Errors outside the taxonomy report ClassNone.
func ClassOf(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrBinding):
		return ClassBug
	case errors.Is(err, ErrValidation), errors.Is(err, ErrResource):
		return ClassInput
	case errors.Is(err, ErrFetch), errors.Is(err, ErrBuild), errors.Is(err, ErrNativeCall):
		return ClassEnvironment
	default:
		return ClassNone
	}
}

func chain(kind, err error) []error {
	if err == nil {
		return []error{kind}
	}
	return []error{kind, err}
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// tail keeps the last lines of subprocess output so errors stay readable.
func tail(out string) string {
	const maxLines = 20
	out = strings.TrimRight(out, "\n")
	if out == "" {
		return ""
	}
	lines := strings.Split(out, "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}
