package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
)

// installRequire exposes a module loader whose resolution is pinned to the
// dependency store. Nothing outside root is ever read.
func installRequire(vm *goja.Runtime, root string) error {
	if root == "" {
		disabled := func(call goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(errors.New("module loading is disabled: no dependency store configured")))
		}
		return vm.Set("require", disabled)
	}

	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	registry := require.NewRegistry(
		require.WithLoader(storeLoader(root)),
		require.WithGlobalFolders(filepath.Join(root, "node_modules")),
	)
	registry.Enable(vm)
	return nil
}

// storeLoader returns a source loader that only serves regular files located
// under root. Anything else reports as missing so resolution moves on.
func storeLoader(root string) require.SourceLoader {
	return func(path string) ([]byte, error) {
		p := filepath.FromSlash(path)
		if !filepath.IsAbs(p) || !within(root, p) {
			return nil, require.ModuleFileDoesNotExistError
		}

		resolved, err := filepath.EvalSymlinks(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, require.ModuleFileDoesNotExistError
			}
			return nil, err
		}
		if !within(root, resolved) {
			return nil, require.ModuleFileDoesNotExistError
		}

		info, err := os.Stat(resolved)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, require.ModuleFileDoesNotExistError
			}
			return nil, err
		}
		if info.IsDir() {
			return nil, require.ModuleFileDoesNotExistError
		}

		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to read module %s: %w", path, err)
		}
		return data, nil
	}
}

// within reports whether path lies inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
