// Package main provides the agentstream CLI.
//
// Start the HTTP server:
//
//	agentstream serve --config agentstream.yaml
//
// Ask a single question from the terminal:
//
//	agentstream chat "What is 17 * 23?"
//
// Print the JSON schema of the configuration file:
//
//	agentstream config schema
//
// Settings can also come from AGENTSTREAM_* environment variables or a .env
// file in the working directory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentstream",
		Short:        "Streaming agent server with tool orchestration",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildConfigCmd(),
	)

	return rootCmd
}
