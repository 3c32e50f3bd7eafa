package deps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// TestHelperProcess stands in for npm. It is only active when re-executed by
// helperInstaller.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("RUNPAD_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: npm <op> ... <name>")
		os.Exit(2)
	}
	os.Exit(fakeNpm(args[1], args[len(args)-1]))
}

func fakeNpm(op, spec string) int {
	// Writers must be serialized by the installer
	busy, err := os.OpenFile(".busy", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintln(os.Stderr, "npm ERR! concurrent invocation in", mustGetwd())
		return 3
	}
	busy.Close()
	defer os.Remove(".busy")
	time.Sleep(20 * time.Millisecond)

	name, version, _ := SplitSpec(spec)
	if version == "" {
		version = "1.0.0"
	}
	if strings.HasPrefix(name, "does-not-exist") {
		fmt.Fprintf(os.Stderr, "npm ERR! 404 Not Found - GET https://registry.npmjs.org/%s\n", name)
		return 1
	}

	data, err := os.ReadFile("package.json")
	if err != nil {
		fmt.Fprintln(os.Stderr, "npm ERR! missing package.json")
		return 1
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		fmt.Fprintln(os.Stderr, "npm ERR! bad package.json")
		return 1
	}
	deps, _ := m["dependencies"].(map[string]any)
	if deps == nil {
		deps = map[string]any{}
	}

	switch op {
	case "install":
		deps[name] = "^" + version
		dir := filepath.Join("node_modules", name)
		os.MkdirAll(dir, 0755)
		os.WriteFile(filepath.Join(dir, "index.js"), []byte(`module.exports = 1;`), 0644)
	case "uninstall":
		delete(deps, name)
		os.RemoveAll(filepath.Join("node_modules", name))
	default:
		fmt.Fprintln(os.Stderr, "npm ERR! unknown command", op)
		return 1
	}
	m["dependencies"] = deps
	out, _ := json.MarshalIndent(m, "", "  ")
	if err := os.WriteFile("package.json", out, 0644); err != nil {
		return 1
	}
	fmt.Println("changed 1 package")
	return 0
}

func mustGetwd() string {
	wd, _ := os.Getwd()
	return wd
}

func helperInstaller(t *testing.T, root string) *NpmInstaller {
	t.Helper()
	store, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}
	return NewNpmInstaller(store,
		WithCommand(os.Args[0], "-test.run=^TestHelperProcess$", "--"),
		WithEnv("RUNPAD_WANT_HELPER_PROCESS=1"),
	)
}

func TestNpmInstaller_InstallAndList(t *testing.T) {
	inst := helperInstaller(t, filepath.Join(t.TempDir(), "store"))
	ctx := context.Background()

	if err := inst.Install(ctx, "left-pad"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	got, err := inst.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got["left-pad"] != "^1.0.0" {
		t.Errorf("expected left-pad in manifest, got %v", got)
	}
	if _, err := os.Stat(filepath.Join(inst.Store().ModulesPath(), "left-pad", "index.js")); err != nil {
		t.Errorf("module tree missing: %v", err)
	}
}

func TestNpmInstaller_InstallWithVersion(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())
	ctx := context.Background()

	if err := inst.Install(ctx, "@scope/pkg@2.1.0"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	got, _ := inst.List(ctx)
	if got["@scope/pkg"] != "^2.1.0" {
		t.Errorf("unexpected manifest %v", got)
	}
}

func TestNpmInstaller_Uninstall(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())
	ctx := context.Background()

	if err := inst.Install(ctx, "left-pad"); err != nil {
		t.Fatal(err)
	}
	if err := inst.Uninstall(ctx, "left-pad"); err != nil {
		t.Fatalf("Uninstall() error = %v", err)
	}

	got, _ := inst.List(ctx)
	if _, ok := got["left-pad"]; ok {
		t.Errorf("left-pad still listed: %v", got)
	}
	if _, err := os.Stat(filepath.Join(inst.Store().ModulesPath(), "left-pad")); !os.IsNotExist(err) {
		t.Error("module tree still present after uninstall")
	}
}

func TestNpmInstaller_InstallFailure(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())

	err := inst.Install(context.Background(), "does-not-exist-xyz")

	var ie *InstallError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InstallError, got %T: %v", err, err)
	}
	if ie.Op != "install" || ie.Name != "does-not-exist-xyz" {
		t.Errorf("unexpected error fields: %+v", ie)
	}
	if !strings.Contains(ie.Output, "404 Not Found") {
		t.Errorf("expected npm diagnostic in output, got %q", ie.Output)
	}
	got, _ := inst.List(context.Background())
	if len(got) != 0 {
		t.Errorf("failed install changed the manifest: %v", got)
	}
}

func TestNpmInstaller_InvalidNames(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())
	ctx := context.Background()

	for _, name := range []string{"", "--global", "-g", "Left-Pad", "a b", "../x", "pkg@", "pkg@1.0;rm"} {
		if err := inst.Install(ctx, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Install(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	if err := inst.Uninstall(ctx, "left-pad@1.0.0"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Uninstall with version = %v, want ErrInvalidName", err)
	}
	if _, err := os.Stat(inst.Store().ManifestPath()); !os.IsNotExist(err) {
		t.Error("rejected names must not touch the store")
	}
}

func TestNpmInstaller_ListEmptyStore(t *testing.T) {
	inst := helperInstaller(t, filepath.Join(t.TempDir(), "missing"))

	got, err := inst.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestNpmInstaller_SerializesWriters(t *testing.T) {
	root := t.TempDir()
	a := helperInstaller(t, root)
	b := helperInstaller(t, root)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	names := []string{"pkg-a", "pkg-b", "pkg-c", "pkg-d"}
	for i, name := range names {
		inst := a
		if i%2 == 1 {
			inst = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = inst.Install(ctx, name)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Install(%s) error = %v", names[i], err)
		}
	}
	got, _ := a.List(ctx)
	if len(got) != len(names) {
		t.Errorf("expected %d packages, got %v", len(names), got)
	}
}

func TestNpmInstaller_ListWaitsForWriter(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())
	mu := inst.Store().lock()
	mu.Lock()

	done := make(chan error, 1)
	go func() {
		_, err := inst.List(context.Background())
		done <- err
	}()

	select {
	case <-done:
		mu.Unlock()
		t.Fatal("List returned while a writer held the store")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Unlock()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("List() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("List did not return after the writer finished")
	}
}

func TestNpmInstaller_ContextCancelled(t *testing.T) {
	inst := helperInstaller(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := inst.Install(ctx, "left-pad"); err == nil {
		t.Error("expected error for cancelled context")
	}
	if _, err := inst.List(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("List() = %v, want context.Canceled", err)
	}
}

func TestSplitSpec(t *testing.T) {
	tests := []struct {
		spec        string
		wantName    string
		wantVersion string
		wantErr     bool
	}{
		{spec: "left-pad", wantName: "left-pad"},
		{spec: "left-pad@1.3.0", wantName: "left-pad", wantVersion: "1.3.0"},
		{spec: "lodash@^4.17.0", wantName: "lodash", wantVersion: "^4.17.0"},
		{spec: "@scope/pkg", wantName: "@scope/pkg"},
		{spec: "@scope/pkg@latest", wantName: "@scope/pkg", wantVersion: "latest"},
		{spec: "  dayjs  ", wantName: "dayjs"},
		{spec: "", wantErr: true},
		{spec: "-rf", wantErr: true},
		{spec: "UPPER", wantErr: true},
		{spec: "@scope", wantErr: true},
		{spec: "a/b", wantErr: true},
		{spec: "pkg@", wantErr: true},
		{spec: strings.Repeat("a", 215), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			name, version, err := SplitSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("SplitSpec(%q) error = %v, want ErrInvalidName", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitSpec(%q) unexpected error: %v", tt.spec, err)
			}
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("SplitSpec(%q) = (%q, %q), want (%q, %q)", tt.spec, name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestInstallError_Message(t *testing.T) {
	base := errors.New("exit status 1")

	withOutput := &InstallError{Op: "install", Name: "x", Output: "npm ERR! 404", Err: base}
	if withOutput.Error() != "install x failed: npm ERR! 404" {
		t.Errorf("unexpected message %q", withOutput.Error())
	}
	if !errors.Is(withOutput, base) {
		t.Error("expected InstallError to unwrap to the exec error")
	}

	bare := &InstallError{Op: "uninstall", Name: "x", Err: base}
	if bare.Error() != "uninstall x failed: exit status 1" {
		t.Errorf("unexpected message %q", bare.Error())
	}
}
