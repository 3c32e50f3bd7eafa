// Package deps manages the dependency store: an isolated directory holding a
// package.json manifest and the node_modules tree scripts require from.
package deps

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	// ManifestFile is the manifest name inside the store root
	ManifestFile = "package.json"

	// ModulesDir is where installed module trees live
	ModulesDir = "node_modules"
)

// ErrManifestCorrupt indicates the manifest exists but cannot be parsed.
var ErrManifestCorrupt = errors.New("manifest is corrupt")

// Manifest is the persisted record of installed packages.
type Manifest struct {
	Name         string            `json:"name,omitempty"`
	Version      string            `json:"version,omitempty"`
	Private      bool              `json:"private,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

// newManifest returns the manifest a fresh store starts with.
func newManifest() *Manifest {
	return &Manifest{
		Name:         "runpad-packages",
		Version:      "1.0.0",
		Private:      true,
		Dependencies: map[string]string{},
	}
}

// Store is a filesystem-backed dependency store rooted at one directory.
// The directory is created lazily and never removed.
type Store struct {
	root string
}

// NewStore creates a store rooted at root. Nothing is touched on disk until
// Ensure is called.
func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string {
	return s.root
}

// ManifestPath returns the path of the manifest file.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.root, ManifestFile)
}

// ModulesPath returns the directory installed modules live in.
func (s *Store) ModulesPath() string {
	return filepath.Join(s.root, ModulesDir)
}

// Ensure creates the store directory and an empty manifest when missing.
// It is idempotent and leaves an existing manifest untouched.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", s.root, err)
	}
	if _, err := os.Stat(s.ManifestPath()); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat manifest: %w", err)
	}
	return s.writeManifest(newManifest())
}

// ReadManifest loads the manifest. A missing manifest (or missing store) is
// an empty manifest, not an error.
func (s *Store) ReadManifest() (*Manifest, error) {
	data, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestCorrupt, err)
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	return &m, nil
}

// writeManifest replaces the manifest atomically.
func (s *Store) writeManifest(m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, ".package-*.json")
	if err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.ManifestPath()); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// rootLocks holds one mutex per store root, shared by every installer that
// points at the same directory.
var rootLocks sync.Map

// lock returns the mutex serializing writers of this store.
func (s *Store) lock() *sync.Mutex {
	mu, _ := rootLocks.LoadOrStore(s.root, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
