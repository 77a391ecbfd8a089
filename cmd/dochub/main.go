package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eargollo/dochub/internal/config"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "dochub",
	Short:   "Document hub with duplicate detection and journal reconciliation",
	Version: version,
	// Config and logging are set up once for every subcommand.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})))

		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.LogLevel),
		})))
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
