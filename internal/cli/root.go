// Package cli implements the cobra-based CLI commands for tunnelctl.
//
// Each subcommand (expose, discover, providers, cleanup) is defined in its
// own file within this package. This file defines the root command that
// serves as the parent for all subcommands and handles global flags.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/tunnelctl/internal/config"
	"github.com/shinji-kodama/tunnelctl/internal/logging"
	"github.com/shinji-kodama/tunnelctl/internal/model"
)

// Global flag variables shared across all subcommands.
// These are bound to cobra persistent flags on the root command,
// which makes them available to every subcommand automatically.
var (
	// jsonOutput controls whether command output is formatted as JSON.
	jsonOutput bool

	// verbose enables debug logging on stderr.
	verbose bool

	// configPath points at a YAML or JSON/JSONC config file.
	configPath string

	// logLevel overrides the configured zap level for non-verbose runs.
	logLevel string

	// logger is built in PersistentPreRunE once the flags are parsed.
	logger = logging.NewNop()
)

// version, commit, and date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
// This is the entry point for the entire CLI application.
//
// The root command itself does not perform any action. It only provides
// help text and global flags.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tunnelctl",
		Short: "Expose a local web app through the first tunnel provider that works",
		Long: `tunnelctl publishes a local port through a tunnel agent (ngrok,
cloudflared, localtunnel or a custom one) and prints the public URL.

Providers are tried in order. The first one that reports a public URL
within its timeout wins; the others are stopped and skipped.`,

		// SilenceUsage prevents cobra from printing usage on every error.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// We format errors ourselves (text or JSON based on --json flag).
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogger()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (YAML or JSON/JSONC; default: $TUNNELCTL_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error (default: warn)")

	rootCmd.AddCommand(NewExposeCommand())
	rootCmd.AddCommand(NewDiscoverCommand())
	rootCmd.AddCommand(NewProvidersCommand())
	rootCmd.AddCommand(NewCleanupCommand())

	return rootCmd
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
//
// CLIError types carry their own exit codes; other errors default to
// exit code 1.
func Execute(rootCmd *cobra.Command) {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		var cliErr *model.CLIError
		if errors.As(err, &cliErr) {
			printError(os.Stderr, cliErr.Message, cliErr.Err)
			os.Exit(int(cliErr.Code))
		}

		printError(os.Stderr, err.Error(), nil)
		os.Exit(int(model.ExitGeneralError))
	}
}

// initLogger builds the package logger from --verbose and --log-level.
func initLogger() error {
	return setLogger(logLevel)
}

func setLogger(level string) error {
	cfg := logging.DefaultConfig()
	if verbose {
		cfg = logging.VerboseConfig()
	} else if level != "" {
		cfg.Level = level
	}

	l, err := logging.New(cfg)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid log level", err)
	}
	logger = l
	return nil
}

// loadConfig loads the layered configuration using the --config flag.
// A log level from the file or TUNNELCTL_LOG_LEVEL replaces the default
// one unless --verbose or --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if !verbose && logLevel == "" && cfg.LogLevel != "" {
		if err := setLogger(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	if cfg.Source != "" {
		VerboseLog("Loaded config from %s", cfg.Source)
	}
	return cfg, nil
}

// printError outputs an error message in the appropriate format
// (JSON or text) based on the --json global flag.
func printError(w io.Writer, message string, underlying error) {
	if jsonOutput {
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"message": message,
			},
		}
		if underlying != nil {
			if errMap, ok := errObj["error"].(map[string]interface{}); ok {
				errMap["detail"] = underlying.Error()
			}
		}
		// Errors go to stderr even in JSON mode; stdout is reserved for
		// successful command output.
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(w, string(data))
		return
	}

	if underlying != nil {
		fmt.Fprintf(w, "Error: %s: %v\n", message, underlying)
	} else {
		fmt.Fprintf(w, "Error: %s\n", message)
	}
}

// VerboseLog writes a debug line through the CLI logger. It only shows
// with --verbose or a debug log level.
func VerboseLog(format string, args ...interface{}) {
	logger.Sugar().Debugf(format, args...)
}

// IsJSONOutput returns whether the --json flag is set.
// Subcommands use this to decide their output format.
func IsJSONOutput() bool {
	return jsonOutput
}
