package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Sentinel errors for run termination.
var (
	// ErrCancelled indicates the run's context was cancelled, typically
	// because a newer run superseded it.
	ErrCancelled = errors.New("run cancelled")

	// ErrTimeout indicates the run exceeded Config.RunTimeout.
	ErrTimeout = errors.New("run timed out")

	// ErrUnsettled indicates the script's completion value was a promise
	// that was still pending once no work was left.
	ErrUnsettled = errors.New("script promise never settled")
)

// ScriptError is a failure raised by user code, with its source position.
type ScriptError struct {
	Message string

	// Line is the 1-based line number; zero when unknown
	Line   int
	Column int

	Err error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d)", e.Message, e.Line)
	}
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// scriptError classifies err raised while running vm.
func scriptError(vm *goja.Runtime, err error) *ScriptError {
	var exc *goja.Exception
	if errors.As(err, &exc) {
		se := &ScriptError{Message: messageOf(vm, exc.Value()), Err: err}
		se.Line, _ = ResolveLine(exc.String())
		return se
	}
	se := &ScriptError{Message: err.Error(), Err: err}
	se.Line, _ = ResolveLine(err.Error())
	return se
}

// rejection classifies the reason a completion promise was rejected with.
func rejection(vm *goja.Runtime, reason goja.Value) *ScriptError {
	se := &ScriptError{Message: messageOf(vm, reason)}
	if obj, ok := reason.(*goja.Object); ok {
		if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			se.Line, _ = ResolveLine(stack.String())
		}
	}
	return se
}

// messageOf extracts the human-readable message of a thrown value.
func messageOf(vm *goja.Runtime, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if obj, ok := v.(*goja.Object); ok {
		if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
			return msg.String()
		}
	}
	return strings.TrimSpace(v.String())
}
