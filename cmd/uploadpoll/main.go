// Package main is the entry point for the uploadpoll CLI.
//
// uploadpoll can be used as a library (SDK) or as a standalone binary with
// YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	uploadpoll watch -c config.yaml abc123 def456/f1 # Poll jobs until done
//	uploadpoll serve -c config.yaml                  # Start the tracking server
//	uploadpoll validate -c config.yaml               # Validate configuration
//	uploadpoll version                               # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "uploadpoll",
	Short: "Poll upload status endpoints until a job is done",
	Long: `uploadpoll discovers the outcome of server-side upload jobs by polling
a status endpoint until it reports ready (202), unsafe (409), bad request
(400), an unexpected error, or the attempt budget runs out.

Quick start:
  1. Create a config file (uploadpoll.yaml)
  2. Run: uploadpoll watch -c uploadpoll.yaml <job-id>

Example config:
  poll:
    endpoint: https://uploads.example.com/status/{{.JobID}}
    interval: 1s
    max_attempts: 30
  destinations:
    ready: /envelopes/{{.JobID}}/files
    unsafe: /envelopes/{{.JobID}}/unsafe
    error: /envelopes/{{.JobID}}/error`,
	// No Run/RunE means this just shows help when called without subcommands
	SilenceUsage: true,
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this uploadpoll binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uploadpoll %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
