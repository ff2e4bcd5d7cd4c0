package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gitforge/config"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var confDir string

func main() {
	slog.SetDefault(newLogger(config.LoggingConfig{Level: "info", Format: "text"}))

	var rootCmd = &cobra.Command{
		Use:           "gitforge",
		Short:         "gitforge - Git hosting server",
		Long:          `gitforge serves Git repositories and coordinates with its peers as a raft cluster`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&confDir, "conf-dir", config.DefaultConfDir(), "Directory holding "+config.PropertiesFile)

	// Add subcommands
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
