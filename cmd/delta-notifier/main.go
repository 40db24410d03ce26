// Package main implements the delta-notifier entry point. The service
// receives change-set batches from the triple store and forwards the
// interesting ones to the callbacks named in its rules file.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "delta-notifier"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath string
	RulesFile  string
	LogLevel   string
	LogFormat  string
	Validate   bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cli := &CLIConfig{}
	root := &cobra.Command{
		Use:           appName,
		Short:         "Forward triple-store change-sets to interested services",
		Version:       fmt.Sprintf("%s (build %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cli)
		},
	}

	flags := root.Flags()
	flags.StringVarP(&cli.ConfigPath, "config", "c", os.Getenv("DELTA_CONFIG"),
		"Path to a YAML or JSON configuration file (env: DELTA_CONFIG)")
	flags.StringVar(&cli.RulesFile, "rules", "",
		"Path to the rules file, overrides rules_file")
	flags.StringVar(&cli.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides log.level)")
	flags.StringVar(&cli.LogFormat, "log-format", "",
		"Log format: json, text (overrides log.format)")
	flags.BoolVar(&cli.Validate, "validate", false,
		"Validate configuration and rules, then exit")

	return root
}
