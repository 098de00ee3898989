// Package main provides the CLI entry point for the strand agent runtime.
//
// Strand runs tool-using conversational agents against LLM providers
// (Anthropic, OpenAI), persists their threads and runs, and streams run
// events to clients over SSE.
//
// # Basic Usage
//
// Start the server:
//
//	strand serve --config strand.yaml
//
// Manage database migrations:
//
//	strand migrate up
//	strand migrate status
//
// Issue a stream token:
//
//	strand token --user u-123
//
// # Environment Variables
//
// Configuration values may reference environment variables; the loader
// expands them before decoding. Common ones:
//
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
//   - STRAND_JWT_SECRET: signing secret for stream tokens
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"     // Semantic version (e.g., "v1.0.0")
	commit  = "none"    // Git commit SHA
	date    = "unknown" // Build timestamp
)

func main() {
	// Default logger until serve installs the configured one.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// This is separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - tool-using agent runtime",
		Long: `Strand executes tool-using conversational agents over streaming LLM output.

Supported LLM providers: Anthropic (Claude), OpenAI (GPT)
Run events stream to clients over SSE; stop signals travel over Redis.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		// SilenceUsage prevents printing usage on every error.
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildTokenCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
