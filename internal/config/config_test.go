package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvStoreDir, EnvNpm, EnvRunTimeout, EnvAddr, EnvSupersede, EnvLogLevel} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RunTimeout != 30*time.Second {
		t.Errorf("RunTimeout = %v, want 30s", cfg.RunTimeout)
	}
	if !cfg.Supersede {
		t.Error("Supersede should default to true")
	}
	if len(cfg.Npm) != 1 || cfg.Npm[0] != "npm" {
		t.Errorf("Npm = %v", cfg.Npm)
	}
	if !strings.HasSuffix(cfg.StoreDir, filepath.Join("runpad", "packages")) {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "RUNPAD_STORE_DIR=/srv/runpad\nRUNPAD_NPM=pnpm --silent\nRUNPAD_RUN_TIMEOUT=5\nRUNPAD_SUPERSEDE=false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.StoreDir != "/srv/runpad" {
		t.Errorf("StoreDir = %q", cfg.StoreDir)
	}
	if strings.Join(cfg.Npm, " ") != "pnpm --silent" {
		t.Errorf("Npm = %v", cfg.Npm)
	}
	if cfg.RunTimeout != 5*time.Second {
		t.Errorf("RunTimeout = %v", cfg.RunTimeout)
	}
	if cfg.Supersede {
		t.Error("Supersede should be false")
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeEnvFile(t, "RUNPAD_ADDR=:9000\nRUNPAD_LOG_LEVEL=debug\n")
	t.Setenv(EnvAddr, ":9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Addr != ":9100" {
		t.Errorf("Addr = %q, want the environment value", cfg.Addr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want the file value", cfg.LogLevel)
	}
}

func TestLoad_DefaultEnvFileInWorkingDir(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("RUNPAD_RUN_TIMEOUT=2m\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RunTimeout != 2*time.Minute {
		t.Errorf("RunTimeout = %v, want 2m", cfg.RunTimeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad timeout", EnvRunTimeout, "soon"},
		{"negative timeout", EnvRunTimeout, "-1"},
		{"bad supersede", EnvSupersede, "sometimes"},
		{"bad level", EnvLogLevel, "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Error("expected error for a missing explicit env file")
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "30", want: 30 * time.Second},
		{in: "1500ms", want: 1500 * time.Millisecond},
		{in: " 2m ", want: 2 * time.Minute},
		{in: "-5s", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTimeout(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTimeout(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeout(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.StoreDir = " "
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for blank store dir")
	}

	cfg = Default()
	cfg.Npm = nil
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty npm command")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.LogLevel = "warn"

	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "key=value") {
		t.Errorf("unexpected log output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := ParseLevel("DEBUG"); err != nil || lvl != slog.LevelDebug {
		t.Errorf("ParseLevel(DEBUG) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}
