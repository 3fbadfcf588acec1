// Package main provides agentctl, the CLI client for the agentd daemon.
//
// # Basic Usage
//
// Scaffold workspace files:
//
//	agentctl init
//
// Create a spec and start a run:
//
//	agentctl spec new checkout-flow
//	agentctl run --workspace . --spec specs/checkout-flow/spec.md
//	agentctl attach <run_id>
//
// Chat with the agent:
//
//	agentctl session new --workspace .
//	agentctl session message <session_id> --text "add a healthcheck endpoint"
//
// # Environment Variables
//
//   - HARNESS_URL: base URL for agentd (default http://127.0.0.1:8787)
//   - HARNESS_AUTH_TOKEN: bearer token (optional, must match agentd)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "agentctl - CLI client for agentd",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		buildInitCmd(),
		buildSpecCmd(),
		buildRunCmd(),
		buildAttachCmd(),
		buildApproveCmd(),
		buildCancelCmd(),
		buildListCmd(),
		buildExportCmd(),
		buildSessionCmd(),
		buildModelsCmd(),
		buildDoctorCmd(),
	)

	return rootCmd
}
