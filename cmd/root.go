package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/runpad/internal/config"
	"github.com/itsmostafa/runpad/internal/deps"
	"github.com/itsmostafa/runpad/internal/sandbox"
	"github.com/itsmostafa/runpad/internal/session"
	"github.com/itsmostafa/runpad/internal/version"
)

var envFile string
var storeDir string
var npmCommand string
var runTimeout string
var supersede bool
var logLevel string

// cfg and logger are resolved once per invocation, before any subcommand runs
var cfg *config.Config
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "runpad",
	Short: "JavaScript scratchpad with inline console output",
	Long: `runpad runs JavaScript snippets in a sandbox and prints every console call
next to the source line that made it. Scripts can require npm packages
installed into a private dependency store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("runpad %s\n", version.String()))

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", "", "Read settings from this file instead of ./.env")
	flags.StringVar(&storeDir, "store", "", "Dependency store directory (env "+config.EnvStoreDir+")")
	flags.StringVar(&npmCommand, "npm", "", "Package manager command (env "+config.EnvNpm+")")
	flags.StringVar(&runTimeout, "timeout", "", "Run time limit, e.g. 30s; 0 disables (env "+config.EnvRunTimeout+")")
	flags.BoolVar(&supersede, "supersede", true, "Cancel the in-flight run when a new one starts (env "+config.EnvSupersede+")")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env "+config.EnvLogLevel+")")
}

// loadConfig layers flags over the environment over the defaults.
func loadConfig(cmd *cobra.Command) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	loaded, err := config.Load(files...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		loaded.StoreDir = storeDir
	}
	if flags.Changed("npm") {
		loaded.Npm = strings.Fields(npmCommand)
	}
	if flags.Changed("timeout") {
		d, err := config.ParseTimeout(runTimeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		loaded.RunTimeout = d
	}
	if flags.Changed("supersede") {
		loaded.Supersede = supersede
	}
	if flags.Changed("log-level") {
		loaded.LogLevel = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	logger = cfg.NewLogger(cmd.ErrOrStderr())
	return nil
}

// newSession wires the store, installer and execution host from cfg.
func newSession() (*session.Session, error) {
	store, err := deps.NewStore(cfg.StoreDir)
	if err != nil {
		return nil, err
	}
	if err := store.Ensure(); err != nil {
		return nil, err
	}
	installer := deps.NewNpmInstaller(store,
		deps.WithCommand(cfg.Npm...),
		deps.WithLogger(logger),
	)

	host, err := sandbox.NewHost(sandbox.Config{
		StoreRoot:  store.Root(),
		RunTimeout: cfg.RunTimeout,
		Version:    version.Version,
	})
	if err != nil {
		return nil, err
	}

	return session.New(host, installer, session.Options{
		Supersede: cfg.Supersede,
		Logger:    logger,
	}), nil
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
