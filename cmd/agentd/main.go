// Package main provides the agentd daemon: a local HTTP service that
// drives coding-agent runs and chat sessions against a workspace.
//
// # Basic Usage
//
// Start the daemon:
//
//	agentd serve
//
// Start with a custom listen address and data directory:
//
//	agentd serve --listen 127.0.0.1:9000 --data-dir /tmp/harness
//
// # Environment Variables
//
//   - HARNESS_CONFIG: path to a JSON config file
//   - HARNESS_LISTEN: listen address (host:port)
//   - HARNESS_DATA_DIR: data directory (default ~/.agent-harness)
//   - HARNESS_AUTH_TOKEN: bearer token; if set, required on all requests
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//
// A .env.local or .env file in the working directory is loaded at
// startup; existing environment variables win.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Volpestyle/vuhlp-code/internal/observability"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env.local takes precedence over .env; real env vars win over both.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentd",
		Short:        "agentd - coding agent harness daemon",
		Long:         "agentd runs the coding agent harness: plan-driven runs, chat and spec sessions, and the v1 HTTP API.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())

	return rootCmd
}
