package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Host compiles and runs submitted source, one fresh runtime per run.
//
// Contract:
// - Concurrency: safe for concurrent use; runs share nothing but the
//   compiled program cache and the dependency store.
// - Context: cancellation or deadline interrupts the script and fails the run.
// - Errors: Run never returns a Go error or panics; every failure is folded
//   into the ExecutionResult.
type Host struct {
	cfg      Config
	programs *lru.Cache[string, *goja.Program]
}

// NewHost creates a Host with the given configuration.
func NewHost(cfg Config) (*Host, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if cfg.Version == "" {
		cfg.Version = DefaultConfig().Version
	}
	programs, err := lru.New[string, *goja.Program](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create program cache: %w", err)
	}
	return &Host{cfg: cfg, programs: programs}, nil
}

// Config returns the host configuration.
func (h *Host) Config() Config {
	return h.cfg
}

// Run executes req and blocks until the script settles: the program has
// finished, no timers are pending and the completion value, if a promise,
// is no longer pending. Console calls are delivered to sink as they happen.
func (h *Host) Run(ctx context.Context, req ExecutionRequest, sink Sink) (result ExecutionResult) {
	if sink == nil {
		sink = discard
	}
	if h.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.RunTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = failure(req.RunID, &ScriptError{Message: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(req.RunID, terminated(ctx))
	}

	prg, err := h.compile(req.Source)
	if err != nil {
		return failure(req.RunID, scriptError(nil, err))
	}

	// Create a new goja runtime for each execution (isolation)
	vm := goja.New()
	out := newConsole(vm, req.RunID, sink)
	sched := newScheduler(vm, func(err error) {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return
		}
		out.report(scriptError(vm, err))
	})
	defer sched.close()

	if err := h.setupEnvironment(vm, out, sched); err != nil {
		return failure(req.RunID, &ScriptError{Message: fmt.Sprintf("failed to setup environment: %v", err), Err: err})
	}

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(terminated(ctx))
	})
	defer stop()

	val, err := vm.RunProgram(prg)
	if err != nil {
		if ctx.Err() != nil {
			return failure(req.RunID, terminated(ctx))
		}
		return failure(req.RunID, scriptError(vm, err))
	}

	if err := sched.drain(ctx); err != nil {
		return failure(req.RunID, terminated(ctx))
	}
	if !stop() {
		// cancelled after the script settled; the result still stands
		vm.ClearInterrupt()
	}

	return settle(vm, req.RunID, val)
}

// setupEnvironment installs the enumerated capability set and nothing else.
func (h *Host) setupEnvironment(vm *goja.Runtime, out *console, sched *scheduler) error {
	if err := out.install(); err != nil {
		return err
	}
	if err := sched.install(); err != nil {
		return err
	}
	if err := installRequire(vm, h.cfg.StoreRoot); err != nil {
		return fmt.Errorf("failed to set require: %w", err)
	}
	if err := installProcess(vm, h.cfg.Version); err != nil {
		return fmt.Errorf("failed to set process: %w", err)
	}
	return nil
}

// compile returns the compiled program for source, reusing a cached one when
// the same source was compiled before. Programs are immutable and can run in
// any runtime.
func (h *Host) compile(source string) (*goja.Program, error) {
	sum := sha256.Sum256([]byte(source))
	key := hex.EncodeToString(sum[:])
	if prg, ok := h.programs.Get(key); ok {
		return prg, nil
	}
	prg, err := goja.Compile(ScriptName, source, false)
	if err != nil {
		return nil, err
	}
	h.programs.Add(key, prg)
	return prg, nil
}

// settle builds the success result, unwrapping a completion promise.
func settle(vm *goja.Runtime, runID string, val goja.Value) ExecutionResult {
	if val == nil {
		return ExecutionResult{RunID: runID, Success: true, Undefined: true}
	}
	if p, ok := val.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			val = p.Result()
		case goja.PromiseStateRejected:
			return failure(runID, rejection(vm, p.Result()))
		default:
			return failure(runID, &ScriptError{Message: ErrUnsettled.Error(), Err: ErrUnsettled})
		}
	}

	result := ExecutionResult{RunID: runID, Success: true}
	switch {
	case goja.IsUndefined(val):
		result.Undefined = true
	case goja.IsNull(val):
	default:
		result.ReturnValue = snapshot(val)
	}
	return result
}

func failure(runID string, se *ScriptError) ExecutionResult {
	return ExecutionResult{
		RunID:        runID,
		ErrorMessage: se.Message,
		Line:         se.Line,
		Column:       se.Column,
	}
}

// terminated describes why ctx ended the run.
func terminated(ctx context.Context) *ScriptError {
	err := ErrCancelled
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = ErrTimeout
	}
	return &ScriptError{Message: err.Error(), Err: err}
}
