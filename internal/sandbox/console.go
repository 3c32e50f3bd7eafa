package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dop251/goja"
)

// consoleMethods are the intercepted members, in the order they are installed.
var consoleMethods = []Kind{KindLog, KindWarn, KindInfo, KindError}

// console is the output interceptor injected in place of the ambient console.
type console struct {
	vm    *goja.Runtime
	runID string
	sink  Sink
	now   func() time.Time
}

func newConsole(vm *goja.Runtime, runID string, sink Sink) *console {
	return &console{vm: vm, runID: runID, sink: sink, now: time.Now}
}

func (c *console) install() error {
	obj := c.vm.NewObject()
	for _, kind := range consoleMethods {
		method := func(call goja.FunctionCall) goja.Value {
			c.intercept(kind, call.Arguments)
			return goja.Undefined()
		}
		if err := obj.Set(string(kind), method); err != nil {
			return fmt.Errorf("failed to set console.%s: %w", kind, err)
		}
	}
	return c.vm.Set("console", obj)
}

// intercept resolves the calling line from a stack captured right now, not
// later, since deferred callbacks run out of textual order.
func (c *console) intercept(kind Kind, args []goja.Value) {
	ev := OutputEvent{
		RunID:     c.runID,
		Kind:      kind,
		Args:      make([]any, len(args)),
		Timestamp: c.now().UnixMilli(),
	}
	for i, arg := range args {
		ev.Args[i] = snapshot(arg)
	}
	if pos, ok := c.callerPosition(); ok {
		ev.Line, ev.Column = pos.Line, pos.Column
	}
	c.sink.Emit(ev)
}

// report emits a failure that could not be returned to the script, such as
// an exception thrown out of a timer callback.
func (c *console) report(se *ScriptError) {
	c.sink.Emit(OutputEvent{
		RunID:     c.runID,
		Kind:      KindError,
		Args:      []any{"Uncaught " + se.Message},
		Line:      se.Line,
		Column:    se.Column,
		Timestamp: c.now().UnixMilli(),
	})
}

func (c *console) callerPosition() (pos Position, ok bool) {
	defer func() {
		if recover() != nil {
			pos, ok = Position{}, false
		}
	}()
	return ResolveFrames(c.vm.CaptureCallStack(0, nil))
}

// snapshot copies a JS value into plain Go data so later mutation by the
// script cannot change an event that was already emitted.
func snapshot(v goja.Value) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = fmt.Sprint(r)
		}
	}()

	if v == nil || goja.IsUndefined(v) {
		return Undefined{}
	}
	if goja.IsNull(v) {
		return nil
	}
	if sym, ok := v.(*goja.Symbol); ok {
		return sym.String()
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		exported := v.Export()
		if f, isFloat := exported.(float64); isFloat {
			return finite(f)
		}
		return exported
	}
	if _, isFn := goja.AssertFunction(v); isFn {
		name := obj.Get("name")
		if name == nil || name.String() == "" {
			return "[Function (anonymous)]"
		}
		return fmt.Sprintf("[Function: %s]", name.String())
	}
	if obj.ClassName() == "Error" {
		return obj.String()
	}

	data, err := obj.MarshalJSON()
	if err != nil {
		// circular structures and values JSON cannot represent
		return obj.String()
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return obj.String()
	}
	return decoded
}

// finite replaces NaN and the infinities, which JSON cannot carry, with the
// text console.log prints for them.
func finite(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}
