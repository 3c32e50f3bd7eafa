package deps

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore_RequiresRoot(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestStore_Paths(t *testing.T) {
	root := t.TempDir()
	s, err := NewStore(root)
	if err != nil {
		t.Fatal(err)
	}

	if s.Root() != root {
		t.Errorf("Root() = %q, want %q", s.Root(), root)
	}
	if s.ManifestPath() != filepath.Join(root, "package.json") {
		t.Errorf("unexpected manifest path %q", s.ManifestPath())
	}
	if s.ModulesPath() != filepath.Join(root, "node_modules") {
		t.Errorf("unexpected modules path %q", s.ModulesPath())
	}
}

func TestStore_EnsureCreatesManifest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "store")
	s, _ := NewStore(root)

	if err := s.Ensure(); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	data, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest is not JSON: %v", err)
	}
	if !m.Private {
		t.Error("expected a private manifest")
	}
	if m.Dependencies == nil || len(m.Dependencies) != 0 {
		t.Errorf("expected empty dependencies, got %v", m.Dependencies)
	}
}

func TestStore_EnsureKeepsExistingManifest(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	existing := `{"name":"mine","dependencies":{"left-pad":"^1.3.0"}}`
	if err := os.WriteFile(s.ManifestPath(), []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	if err := s.Ensure(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ensure(); err != nil {
		t.Fatal(err)
	}

	m, err := s.ReadManifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.Dependencies["left-pad"] != "^1.3.0" {
		t.Errorf("manifest was overwritten: %v", m.Dependencies)
	}
}

func TestStore_ReadManifestMissing(t *testing.T) {
	s, _ := NewStore(filepath.Join(t.TempDir(), "never-created"))

	m, err := s.ReadManifest()
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if len(m.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", m.Dependencies)
	}
	if _, err := os.Stat(s.Root()); !os.IsNotExist(err) {
		t.Error("reading must not create the store")
	}
}

func TestStore_ReadManifestCorrupt(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	if err := os.WriteFile(s.ManifestPath(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := s.ReadManifest()
	if !errors.Is(err, ErrManifestCorrupt) {
		t.Fatalf("expected ErrManifestCorrupt, got %v", err)
	}
}

func TestStore_ReadManifestNullDependencies(t *testing.T) {
	root := t.TempDir()
	s, _ := NewStore(root)
	if err := os.WriteFile(s.ManifestPath(), []byte(`{"name":"x"}`), 0644); err != nil {
		t.Fatal(err)
	}

	m, err := s.ReadManifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.Dependencies == nil {
		t.Error("expected a non-nil dependency map")
	}
}

func TestStore_LockSharedPerRoot(t *testing.T) {
	root := t.TempDir()
	a, _ := NewStore(root)
	b, _ := NewStore(root)
	c, _ := NewStore(t.TempDir())

	if a.lock() != b.lock() {
		t.Error("stores on the same root must share a lock")
	}
	if a.lock() == c.lock() {
		t.Error("stores on different roots must not share a lock")
	}
}
