// Package session binds the execution host and the package installer into
// the request/response surface every transport speaks, and fans console
// output out to subscribers.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/itsmostafa/runpad/internal/deps"
	"github.com/itsmostafa/runpad/internal/sandbox"
)

var (
	// ErrClosed indicates the session was closed.
	ErrClosed = errors.New("session closed")

	// ErrNoInstaller indicates package operations were requested on a
	// session built without an installer.
	ErrNoInstaller = errors.New("package management is not configured")
)

// Runner executes one request. *sandbox.Host implements it.
type Runner interface {
	Run(ctx context.Context, req sandbox.ExecutionRequest, sink sandbox.Sink) sandbox.ExecutionResult
}

// Logger is the interface for logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Options configures a Session.
type Options struct {
	// Supersede makes every new run cancel the runs still in flight
	Supersede bool

	Logger Logger
}

// DefaultOptions returns the options the CLI starts from.
func DefaultOptions() Options {
	return Options{Supersede: true}
}

type activeRun struct {
	cancel     context.CancelFunc
	superseded atomic.Bool
}

// Session is the single entry point transports drive.
type Session struct {
	runner    Runner
	installer deps.Installer
	logger    Logger
	supersede bool

	mu      sync.Mutex
	subs    map[int]func(ConsoleOutput)
	nextSub int
	active  map[string]*activeRun
	closed  bool
}

// New creates a session. installer may be nil, in which case package
// operations fail with ErrNoInstaller.
func New(runner Runner, installer deps.Installer, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Session{
		runner:    runner,
		installer: installer,
		logger:    logger,
		supersede: opts.Supersede,
		subs:      make(map[int]func(ConsoleOutput)),
		active:    make(map[string]*activeRun),
	}
}

// Subscribe registers fn for every console event of every run. fn is called
// on the emitting run's goroutine and must not block. The returned function
// removes the subscription.
func (s *Session) Subscribe(fn func(ConsoleOutput)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Session) publish(out ConsoleOutput) {
	s.mu.Lock()
	fns := make([]func(ConsoleOutput), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(out)
	}
}

// Run executes source and blocks until it settles, fails or is cancelled.
// Console output is published to subscribers as it happens, tagged with the
// returned RunID. Output a run produces after it was cancelled is dropped.
func (s *Session) Run(ctx context.Context, source string) RunResponse {
	runID := uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ar, err := s.begin(runID, cancel)
	if err != nil {
		return RunResponse{RunID: runID, Error: err.Error()}
	}
	defer s.end(runID)

	sink := sandbox.SinkFunc(func(ev sandbox.OutputEvent) {
		if runCtx.Err() != nil {
			return
		}
		s.publish(consoleOutput(ev))
	})

	start := time.Now()
	res := s.runner.Run(runCtx, sandbox.ExecutionRequest{RunID: runID, Source: source}, sink)
	resp := runResponse(res, source)
	resp.Superseded = ar.superseded.Load()

	if resp.Success {
		s.logger.Info("run finished", "run_id", runID, "duration", time.Since(start))
	} else {
		s.logger.Warn("run failed", "run_id", runID, "error", resp.Error, "line", resp.Line,
			"superseded", resp.Superseded, "duration", time.Since(start))
	}
	return resp
}

// begin registers a run, superseding the others when configured to.
func (s *Session) begin(runID string, cancel context.CancelFunc) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.supersede {
		for id, other := range s.active {
			other.superseded.Store(true)
			other.cancel()
			s.logger.Info("run superseded", "run_id", id, "by", runID)
		}
	}
	ar := &activeRun{cancel: cancel}
	s.active[runID] = ar
	return ar, nil
}

func (s *Session) end(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

// Cancel stops an in-flight run. It reports whether runID was running.
func (s *Session) Cancel(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ar, ok := s.active[runID]
	if ok {
		ar.cancel()
	}
	return ok
}

// InstallPackage adds name to the dependency store.
func (s *Session) InstallPackage(ctx context.Context, name string) PackageResponse {
	return s.packageOp(ctx, "install", name, func(inst deps.Installer, name string) error {
		return inst.Install(ctx, name)
	})
}

// UninstallPackage removes name from the dependency store.
func (s *Session) UninstallPackage(ctx context.Context, name string) PackageResponse {
	return s.packageOp(ctx, "uninstall", name, func(inst deps.Installer, name string) error {
		return inst.Uninstall(ctx, name)
	})
}

func (s *Session) packageOp(ctx context.Context, op, name string, fn func(deps.Installer, string) error) PackageResponse {
	name = strings.TrimSpace(name)
	if name == "" {
		return PackageResponse{Error: "package name is required"}
	}
	if s.installer == nil {
		return PackageResponse{Error: ErrNoInstaller.Error()}
	}
	if err := fn(s.installer, name); err != nil {
		s.logger.Error("package operation failed", "op", op, "name", name, "error", err)
		return PackageResponse{Error: errorText(err)}
	}
	s.logger.Info("package operation finished", "op", op, "name", name)
	return PackageResponse{Success: true}
}

// GetPackages lists the installed packages.
func (s *Session) GetPackages(ctx context.Context) PackagesResponse {
	if s.installer == nil {
		return PackagesResponse{Error: ErrNoInstaller.Error()}
	}
	pkgs, err := s.installer.List(ctx)
	if err != nil {
		s.logger.Error("listing packages failed", "error", err)
		return PackagesResponse{Error: errorText(err)}
	}
	if pkgs == nil {
		pkgs = map[string]string{}
	}
	return PackagesResponse{Success: true, Packages: pkgs}
}

// Close cancels every in-flight run and rejects new ones.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for _, ar := range s.active {
		ar.cancel()
	}
}
