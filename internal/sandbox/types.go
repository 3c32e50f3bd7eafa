// Package sandbox runs user scripts in an isolated goja runtime.
// Each run gets a fresh runtime with an enumerated capability set: console
// (the output interceptor), timers, a module loader pinned to the dependency
// store, and read-only process metadata.
package sandbox

import (
	"encoding/json"
	"time"
)

// ScriptName is the synthetic source name user code is compiled under.
// Stack frames carrying this name belong to the submitted script.
const ScriptName = "user-script.js"

// Config holds configuration for a Host.
type Config struct {
	// StoreRoot is the dependency store directory modules are resolved from.
	// Empty disables require.
	StoreRoot string

	// RunTimeout bounds a single run, including its timers (default: 30s).
	// Zero disables the limit.
	RunTimeout time.Duration

	// CacheSize is the number of compiled programs kept (default: 128)
	CacheSize int

	// Version is reported to scripts as process.version
	Version string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RunTimeout: 30 * time.Second,
		CacheSize:  128,
		Version:    "dev",
	}
}

// ExecutionRequest is a single run of submitted source.
type ExecutionRequest struct {
	RunID  string
	Source string
}

// ExecutionResult is the terminal outcome of one run.
type ExecutionResult struct {
	RunID string

	// Success is false when the script failed to compile, threw, rejected,
	// or was cancelled.
	Success bool

	// ReturnValue is the exported completion value of the script.
	// It is nil for both null and undefined; Undefined tells them apart.
	ReturnValue any

	// Undefined is set when the completion value was undefined
	Undefined bool

	// ErrorMessage is the human-readable failure message
	ErrorMessage string

	// Line is the 1-based line the failure originated from; zero when unknown
	Line int

	Column int
}

// Kind is the console method an OutputEvent was produced by.
type Kind string

const (
	KindLog   Kind = "log"
	KindWarn  Kind = "warn"
	KindInfo  Kind = "info"
	KindError Kind = "error"
)

// OutputEvent is one intercepted console call.
type OutputEvent struct {
	RunID string
	Kind  Kind

	// Args are snapshots of the call arguments, taken at call time
	Args []any

	// Line is the 1-based source line of the call; zero when unresolved
	Line   int
	Column int

	// Timestamp is the call time in unix milliseconds
	Timestamp int64
}

// Sink receives output events as they happen.
//
// Contract:
// - Emit is called synchronously on the run's goroutine, in call order.
// - Implementations must not block for long; the script waits on them.
type Sink interface {
	Emit(OutputEvent)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(OutputEvent)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev OutputEvent) { f(ev) }

var discard = SinkFunc(func(OutputEvent) {})

// Undefined is the snapshot of an undefined console argument.
type Undefined struct{}

func (Undefined) String() string { return "undefined" }

// MarshalJSON encodes undefined as null, JSON has nothing closer.
func (Undefined) MarshalJSON() ([]byte, error) { return json.Marshal(nil) }

// Position is a location within the submitted source.
type Position struct {
	Line   int
	Column int
}
