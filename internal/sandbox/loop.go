package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// minTimerDelay matches the 1ms clamp browsers and Node apply to timers.
const minTimerDelay = time.Millisecond

// scheduler is the per-run event loop. JS only ever executes on the
// goroutine calling drain; timer expiries are posted back to it as jobs.
type scheduler struct {
	vm     *goja.Runtime
	jobs   chan func()
	done   chan struct{}
	timers map[int64]*timer
	nextID int64

	// uncaught receives exceptions thrown out of timer callbacks
	uncaught func(error)
}

type timer struct {
	id     int64
	fn     goja.Callable
	args   []goja.Value
	delay  time.Duration
	repeat bool
	t      *time.Timer
}

func newScheduler(vm *goja.Runtime, uncaught func(error)) *scheduler {
	return &scheduler{
		vm:       vm,
		jobs:     make(chan func()),
		done:     make(chan struct{}),
		timers:   make(map[int64]*timer),
		uncaught: uncaught,
	}
}

// install exposes the timer primitives on the global object.
func (s *scheduler) install() error {
	globals := map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    func(call goja.FunctionCall) goja.Value { return s.schedule(call, false) },
		"setInterval":   func(call goja.FunctionCall) goja.Value { return s.schedule(call, true) },
		"clearTimeout":  s.clear,
		"clearInterval": s.clear,
	}
	for name, fn := range globals {
		if err := s.vm.Set(name, fn); err != nil {
			return fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return nil
}

func (s *scheduler) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(s.vm.NewTypeError("callback must be a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < minTimerDelay {
		delay = minTimerDelay
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	s.nextID++
	t := &timer{
		id:     s.nextID,
		fn:     fn,
		args:   args,
		delay:  delay,
		repeat: repeat,
	}
	s.timers[t.id] = t
	s.arm(t)
	return s.vm.ToValue(t.id)
}

func (s *scheduler) arm(t *timer) {
	id := t.id
	t.t = time.AfterFunc(t.delay, func() {
		select {
		case s.jobs <- func() { s.fire(id) }:
		case <-s.done:
		}
	})
}

func (s *scheduler) fire(id int64) {
	t, ok := s.timers[id]
	if !ok {
		// cleared after it expired
		return
	}
	if !t.repeat {
		delete(s.timers, id)
	}
	if _, err := t.fn(goja.Undefined(), t.args...); err != nil && s.uncaught != nil {
		s.uncaught(err)
	}
	if _, live := s.timers[id]; live && t.repeat {
		s.arm(t)
	}
}

func (s *scheduler) clear(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := s.timers[id]; ok {
		t.t.Stop()
		delete(s.timers, id)
	}
	return goja.Undefined()
}

// pending reports the number of live timers.
func (s *scheduler) pending() int {
	return len(s.timers)
}

// drain runs timer jobs until none are pending or ctx is done.
func (s *scheduler) drain(ctx context.Context) error {
	for s.pending() > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-s.jobs:
			if err := ctx.Err(); err != nil {
				return err
			}
			job()
		}
	}
	return ctx.Err()
}

// close stops every timer and releases goroutines blocked on job delivery.
func (s *scheduler) close() {
	for id, t := range s.timers {
		t.t.Stop()
		delete(s.timers, id)
	}
	close(s.done)
}
