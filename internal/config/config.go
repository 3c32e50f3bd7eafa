package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvStoreDir   = "RUNPAD_STORE_DIR"
	EnvNpm        = "RUNPAD_NPM"
	EnvRunTimeout = "RUNPAD_RUN_TIMEOUT"
	EnvAddr       = "RUNPAD_ADDR"
	EnvSupersede  = "RUNPAD_SUPERSEDE"
	EnvLogLevel   = "RUNPAD_LOG_LEVEL"
)

// DefaultEnvFile is loaded when present in the working directory.
const DefaultEnvFile = ".env"

type Config struct {
	// StoreDir is the dependency store root
	StoreDir string

	// Npm is the package manager command line, program first
	Npm []string

	// RunTimeout bounds a single run; zero disables the limit
	RunTimeout time.Duration

	// Addr is the listen address of the HTTP server
	Addr string

	// Supersede makes a new run cancel the one in flight
	Supersede bool

	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		StoreDir:   defaultStoreDir(),
		Npm:        []string{"npm"},
		RunTimeout: 30 * time.Second,
		Addr:       "127.0.0.1:7357",
		Supersede:  true,
		LogLevel:   "info",
	}
}

func defaultStoreDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = filepath.Join(os.TempDir(), "runpad")
		return filepath.Join(base, "packages")
	}
	return filepath.Join(base, "runpad", "packages")
}

// Load builds the configuration from defaults, then the env files, then
// the process environment. With no files given, a .env in the working
// directory is used if it exists.
func Load(files ...string) (*Config, error) {
	fileVals, err := readEnvFiles(files)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(fileVals[key])
	}

	cfg := Default()
	if v := lookup(EnvStoreDir); v != "" {
		cfg.StoreDir = v
	}
	if v := lookup(EnvNpm); v != "" {
		cfg.Npm = strings.Fields(v)
	}
	if v := lookup(EnvRunTimeout); v != "" {
		d, err := ParseTimeout(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvRunTimeout, err)
		}
		cfg.RunTimeout = d
	}
	if v := lookup(EnvAddr); v != "" {
		cfg.Addr = v
	}
	if v := lookup(EnvSupersede); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvSupersede, err)
		}
		cfg.Supersede = b
	}
	if v := lookup(EnvLogLevel); v != "" {
		if _, err := ParseLevel(v); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
		cfg.LogLevel = v
	}
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		vals, err := godotenv.Read(DefaultEnvFile)
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", DefaultEnvFile, err)
		}
		return vals, nil
	}
	vals, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to read env files: %w", err)
	}
	return vals, nil
}

// ParseTimeout accepts a Go duration ("45s", "2m") or a bare number of
// seconds. "0" disables the limit.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %q", s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", s)
	}
	return d, nil
}

// Validate reports settings no component can work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StoreDir) == "" {
		return errors.New("store directory is required")
	}
	if len(c.Npm) == 0 {
		return errors.New("package manager command is required")
	}
	if c.RunTimeout < 0 {
		return errors.New("run timeout must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
