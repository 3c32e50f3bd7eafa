package sandbox

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/dop251/goja"
)

// installProcess exposes read-only process metadata. env and argv are empty
// so nothing about the host process leaks into the script.
func installProcess(vm *goja.Runtime, version string) error {
	freeze, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("freeze"))
	if !ok {
		return errors.New("Object.freeze is not a function")
	}
	frozen := func(v goja.Value) (goja.Value, error) {
		return freeze(goja.Undefined(), v)
	}

	env, err := frozen(vm.NewObject())
	if err != nil {
		return fmt.Errorf("failed to freeze process.env: %w", err)
	}
	argv, err := frozen(vm.NewArray())
	if err != nil {
		return fmt.Errorf("failed to freeze process.argv: %w", err)
	}
	versions := vm.NewObject()
	if err := versions.Set("runpad", version); err != nil {
		return err
	}
	if err := versions.Set("go", runtime.Version()); err != nil {
		return err
	}
	frozenVersions, err := frozen(versions)
	if err != nil {
		return fmt.Errorf("failed to freeze process.versions: %w", err)
	}

	proc := vm.NewObject()
	fields := []struct {
		name  string
		value any
	}{
		{"platform", nodePlatform(runtime.GOOS)},
		{"arch", nodeArch(runtime.GOARCH)},
		{"version", "v" + version},
		{"versions", frozenVersions},
		{"pid", os.Getpid()},
		{"env", env},
		{"argv", argv},
	}
	for _, f := range fields {
		if err := proc.Set(f.name, f.value); err != nil {
			return fmt.Errorf("failed to set process.%s: %w", f.name, err)
		}
	}
	frozenProc, err := frozen(proc)
	if err != nil {
		return fmt.Errorf("failed to freeze process: %w", err)
	}
	return vm.Set("process", frozenProc)
}

// nodePlatform maps GOOS to the names scripts expect from process.platform.
func nodePlatform(goos string) string {
	switch goos {
	case "windows":
		return "win32"
	default:
		return goos
	}
}

func nodeArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}
