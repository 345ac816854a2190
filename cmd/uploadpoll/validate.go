package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/uploadpoll/config"
)

// validateCmd validates a config file without polling anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate an uploadpoll configuration file without polling.

This command parses the YAML, expands environment variables, validates all
fields, and builds the poller and destinations exactly as watch and serve
would. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  uploadpoll validate -c config.yaml
  uploadpoll validate --config /etc/uploadpoll/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// templates are only checked for renderability when built
	p, err := config.BuildPoller(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	defer p.Close()
	if _, err := config.BuildDestinations(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	maxAttempts := "unbounded"
	if p.MaxAttempts() > 0 {
		maxAttempts = fmt.Sprintf("%d", p.MaxAttempts())
	}
	classifier := cfg.Poll.Classifier.Type
	if classifier == "" {
		classifier = "status"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Endpoint:      %s\n", cfg.Poll.Endpoint)
	fmt.Fprintf(out, "  Interval:      %s\n", p.Interval())
	fmt.Fprintf(out, "  Initial delay: %s\n", p.InitialDelay())
	fmt.Fprintf(out, "  Max attempts:  %s\n", maxAttempts)
	fmt.Fprintf(out, "  Classifier:    %s\n", classifier)
	fmt.Fprintf(out, "  Destinations:  %t\n", cfg.Destinations != nil)

	return nil
}
