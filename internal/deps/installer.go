package deps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidName indicates a package name that npm would reject or that
// could be mistaken for a command-line flag.
var ErrInvalidName = errors.New("invalid package name")

// maxNameLength is npm's limit on package name length.
const maxNameLength = 214

var (
	namePattern    = regexp.MustCompile(`^(?:@[a-z0-9~][a-z0-9._~-]*/)?[a-z0-9~][a-z0-9._~-]*$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9._^~<>=*|+-]+$`)
)

// Installer adds and removes packages in a dependency store.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use and must
//   serialize writers of the same store.
// - Errors: a failed install or uninstall leaves no partial manifest edit
//   behind that the implementation itself made.
type Installer interface {
	// Install adds name, optionally suffixed with @version.
	Install(ctx context.Context, name string) error

	// Uninstall removes name.
	Uninstall(ctx context.Context, name string) error

	// List returns installed package names mapped to version specifiers.
	List(ctx context.Context) (map[string]string, error)
}

// Logger is the interface for logging.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// InstallError is a failed package manager invocation.
type InstallError struct {
	// Op is "install" or "uninstall"
	Op   string
	Name string

	// Output is the diagnostic text the package manager printed
	Output string

	Err error
}

func (e *InstallError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s %s failed: %s", e.Op, e.Name, e.Output)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Name, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// NpmInstaller installs packages by running npm inside the store root.
type NpmInstaller struct {
	store   *Store
	command []string
	env     []string
	logger  Logger
}

// NpmOption configures an NpmInstaller.
type NpmOption func(*NpmInstaller)

// WithCommand replaces the npm invocation. argv[0] is the program, the rest
// are prepended to every npm argument list.
func WithCommand(argv ...string) NpmOption {
	return func(n *NpmInstaller) {
		if len(argv) > 0 {
			n.command = argv
		}
	}
}

// WithEnv adds environment variables to the npm process.
func WithEnv(env ...string) NpmOption {
	return func(n *NpmInstaller) {
		n.env = append(n.env, env...)
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) NpmOption {
	return func(n *NpmInstaller) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNpmInstaller creates an installer for store.
func NewNpmInstaller(store *Store, opts ...NpmOption) *NpmInstaller {
	n := &NpmInstaller{
		store:   store,
		command: []string{"npm"},
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Store returns the store this installer writes to.
func (n *NpmInstaller) Store() *Store {
	return n.store
}

// Install runs npm install --save for name. On success npm has rewritten the
// manifest.
func (n *NpmInstaller) Install(ctx context.Context, name string) error {
	if _, _, err := SplitSpec(name); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	return n.run(ctx, "install", name, "install", "--save", "--no-audit", "--no-fund", name)
}

// Uninstall runs npm uninstall --save for name.
func (n *NpmInstaller) Uninstall(ctx context.Context, name string) error {
	pkg, version, err := SplitSpec(name)
	if err != nil {
		return err
	}
	if version != "" {
		return fmt.Errorf("%w: uninstall takes a bare name, got %q", ErrInvalidName, name)
	}
	return n.run(ctx, "uninstall", pkg, "uninstall", "--save", pkg)
}

// List reads the manifest. It never fails because the store is missing.
// It waits for a running install or uninstall so it never sees npm's
// half-written manifest.
func (n *NpmInstaller) List(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mu := n.store.lock()
	mu.Lock()
	defer mu.Unlock()

	m, err := n.store.ReadManifest()
	if err != nil {
		return nil, err
	}
	return maps.Clone(m.Dependencies), nil
}

// run executes one npm command while holding the store's writer lock.
func (n *NpmInstaller) run(ctx context.Context, op, name string, args ...string) error {
	mu := n.store.lock()
	mu.Lock()
	defer mu.Unlock()

	if err := n.store.Ensure(); err != nil {
		return err
	}

	argv := append(append([]string{}, n.command[1:]...), args...)
	cmd := exec.CommandContext(ctx, n.command[0], argv...)
	cmd.Dir = n.store.Root()
	cmd.Env = append(os.Environ(), n.env...)

	// Capture output
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	n.logger.Info("package manager started", "op", op, "name", name, "root", n.store.Root())
	err := cmd.Run()
	if err != nil {
		out := diagnostic(stdout.String(), stderr.String())
		n.logger.Error("package manager failed", "op", op, "name", name, "err", err)
		return &InstallError{Op: op, Name: name, Output: out, Err: err}
	}
	n.logger.Info("package manager finished", "op", op, "name", name, "duration", time.Since(start))
	return nil
}

// diagnostic prefers stderr, where npm reports failures, and falls back to
// stdout.
func diagnostic(stdout, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	stdout = strings.TrimSpace(stdout)
	switch {
	case stderr != "" && stdout != "":
		return stderr + "\n" + stdout
	case stderr != "":
		return stderr
	default:
		return stdout
	}
}

// SplitSpec validates a package spec ("name" or "name@version") and splits
// it. Scoped names keep their leading "@".
func SplitSpec(spec string) (name, version string, err error) {
	spec = strings.TrimSpace(spec)
	name = spec
	if at := strings.LastIndex(spec, "@"); at > 0 {
		name, version = spec[:at], spec[at+1:]
		if version == "" || !versionPattern.MatchString(version) {
			return "", "", fmt.Errorf("%w: bad version in %q", ErrInvalidName, spec)
		}
	}
	if name == "" || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, spec)
	}
	return name, version, nil
}
