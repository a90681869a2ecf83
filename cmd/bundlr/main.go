package main

import (
	"fmt"
	"os"

	"github.com/open-edge-platform/bundlr/internal/bundle"
	"github.com/open-edge-platform/bundlr/internal/config"
	"github.com/open-edge-platform/bundlr/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Global command flags
var (
	configFile string // --config
	logLevel   string // --log-level
	verbose    bool   // --verbose
)

func main() {
	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createRootCommand creates the bundlr root command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bundlr",
		Short: "bundlr packages Python applications into self-extracting executables",
		Long: `bundlr turns a Python package name or a source repository URL into a
single executable per target platform. The executable carries an optimized
Python runtime and every dependency, and needs no Python on the target host.`,
		Version:       bundle.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to bundlr.yml (default: ./bundlr.yml, then the user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")

	rootCmd.AddCommand(createBuildCommand())
	rootCmd.AddCommand(createTargetsCommand())
	rootCmd.AddCommand(createInspectCommand())

	for _, sub := range rootCmd.Commands() {
		attachLoggingHooks(sub)
	}
	return rootCmd
}

// attachLoggingHooks loads the configuration and starts the logger before
// the subcommand runs.
func attachLoggingHooks(cmd *cobra.Command) {
	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return initialize(cmd)
	}
}

func initialize(cmd *cobra.Command) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	config.SetGlobal(cfg)

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = cfg.Logging.Level
	}
	z, err := logger.New(level)
	if err != nil {
		return err
	}
	logger.Init(z)
	logger.Logger().Debugf("configuration loaded (cache %s, workers %d)", cfg.CacheDir, cfg.Workers)
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" to use the configured one.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
		return "debug"
	}
	return ""
}
