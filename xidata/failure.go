package xidata

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Common exception type names.
const (
	TypeError         = "TypeError"
	ValueError        = "ValueError"
	AttributeError    = "AttributeError"
	KeyError          = "KeyError"
	IndexError        = "IndexError"
	StopIteration     = "StopIteration"
	RuntimeError      = "RuntimeError"
	ZeroDivisionError = "ZeroDivisionError"
	OverflowError     = "OverflowError"
)

// FailureCode classifies why a cross-interpreter operation failed.
type FailureCode int

const (
	FailureUncaught FailureCode = iota
	FailureOther
	FailureNotShareable
	FailureAlreadyRunning
	FailureMainNS
	FailureApplyNS
	FailurePreserve
)

var failureCodeNames = [...]string{
	FailureUncaught:       "uncaught exception",
	FailureOther:          "other failure",
	FailureNotShareable:   "not shareable",
	FailureAlreadyRunning: "interpreter already running",
	FailureMainNS:         "main namespace unavailable",
	FailureApplyNS:        "could not apply shared values",
	FailurePreserve:       "could not preserve objects",
}

func (c FailureCode) String() string {
	if c >= 0 && int(c) < len(failureCodeNames) {
		return failureCodeNames[c]
	}
	return fmt.Sprintf("FailureCode(%d)", int(c))
}

// TypeInfo names the type of a captured exception.
type TypeInfo struct {
	Name     string `json:"name" yaml:"name"`
	QualName string `json:"qualname" yaml:"qualname"`
	Module   string `json:"module" yaml:"module"`
}

func (t TypeInfo) String() string {
	if t.Module == "" || t.Module == "builtins" {
		return t.QualName
	}
	return t.Module + "." + t.QualName
}

// FailureInfo is an inert snapshot of an exception raised in another
// interpreter. It implements error so it can travel through error chains.
type FailureInfo struct {
	Code      FailureCode  `json:"code" yaml:"code"`
	Type      TypeInfo     `json:"type" yaml:"type"`
	Msg       string       `json:"msg" yaml:"msg"`
	Formatted string       `json:"formatted" yaml:"formatted"`
	Cause     *FailureInfo `json:"cause,omitempty" yaml:"cause,omitempty"`
}

func (f *FailureInfo) Error() string {
	if f.Msg == "" {
		return f.Type.Name
	}
	return f.Type.Name + ": " + f.Msg
}

func (f *FailureInfo) ExcType() TypeInfo { return f.Type }
func (f *FailureInfo) ExcMsg() string    { return f.Msg }
func (f *FailureInfo) Traceback() string { return f.Formatted }

func (f *FailureInfo) Unwrap() error {
	if f.Cause == nil {
		return nil
	}
	return f.Cause
}

// Raise wraps the snapshot in an ExecutionFailed error for the caller's
// interpreter.
func (f *FailureInfo) Raise() error {
	if f == nil {
		return nil
	}
	return &ExecutionFailed{Info: f}
}

func (f *FailureInfo) clone() *FailureInfo {
	if f == nil {
		return nil
	}
	c := *f
	c.Cause = f.Cause.clone()
	return &c
}

// ExecutionFailed is raised in the calling interpreter for a failure that
// happened in another one.
type ExecutionFailed struct {
	Info *FailureInfo
}

func (e *ExecutionFailed) Error() string {
	return e.Info.Error()
}

func (e *ExecutionFailed) Unwrap() error {
	return e.Info
}

func (e *ExecutionFailed) ExcType() TypeInfo {
	return TypeInfo{Name: "ExecutionFailed", QualName: "ExecutionFailed", Module: "xinterp"}
}

func (e *ExecutionFailed) ExcMsg() string {
	return e.Info.Error()
}

// Exception is an error raised by host code with an exception type name.
type Exception struct {
	Type  string
	Msg   string
	Trace string
	Err   error
}

// NewException returns an exception of the given type.
func NewException(typ, format string, args ...any) *Exception {
	return &Exception{Type: typ, Msg: fmt.Sprintf(format, args...)}
}

func (e *Exception) Error() string {
	if e.Msg == "" {
		return e.Type
	}
	return e.Type + ": " + e.Msg
}

func (e *Exception) Unwrap() error     { return e.Err }
func (e *Exception) ExcMsg() string    { return e.Msg }
func (e *Exception) Traceback() string { return e.Trace }

func (e *Exception) ExcType() TypeInfo {
	return TypeInfo{Name: e.Type, QualName: e.Type, Module: "builtins"}
}

// IsException reports whether err carries an exception of type typ
// anywhere in its chain.
func IsException(err error, typ string) bool {
	for ; err != nil; err = errors.Unwrap(err) {
		if x, ok := err.(excError); ok && x.ExcType().Name == typ {
			return true
		}
	}
	return false
}

type excError interface {
	error
	ExcType() TypeInfo
	ExcMsg() string
}

type tracebacker interface {
	Traceback() string
}

// Capture snapshots err and its cause chain. It returns nil for a nil err.
func Capture(err error) *FailureInfo {
	return capture(err, 0)
}

const maxCauseDepth = 32

func capture(err error, depth int) *FailureInfo {
	if err == nil {
		return nil
	}
	if fi, ok := err.(*FailureInfo); ok {
		return fi.clone()
	}

	// Plain wrappers (fmt.Errorf with %w) are looked through to the first
	// typed exception in the chain.
	x, ok := err.(excError)
	if !ok {
		var inner excError
		if errors.As(err, &inner) {
			x, ok = inner, true
		}
	}

	info := &FailureInfo{Code: FailureUncaught}
	if ok {
		info.Type = x.ExcType()
		info.Msg = x.ExcMsg()
	} else {
		info.Type = TypeInfo{Name: RuntimeError, QualName: goTypeName(err), Module: "go"}
		info.Msg = err.Error()
	}
	if errors.Is(err, ErrNotShareable) {
		info.Code = FailureNotShareable
	}

	var src error = err
	if ok {
		src = x
	}
	if tb, isTB := src.(tracebacker); isTB && tb.Traceback() != "" {
		info.Formatted = tb.Traceback()
	} else {
		info.Formatted = formatPlain(info)
	}

	if ok && depth < maxCauseDepth {
		info.Cause = capture(errors.Unwrap(x), depth+1)
	}
	return info
}

func formatPlain(info *FailureInfo) string {
	var b strings.Builder
	b.WriteString(info.Type.Name)
	if info.Msg != "" {
		b.WriteString(": ")
		b.WriteString(info.Msg)
	}
	return b.String()
}

func goTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}
