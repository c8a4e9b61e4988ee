package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/omx-labs/simrun/internal/config"
)

// Populated by the linker at release time.
var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "simrun",
		Short: "simrun - gem5 RISC-V run orchestration and completion detection",
		Long: `simrun launches gem5 full-system RISC-V simulations, supervises them
to completion, validates the console output against per-target completion
markers, and persists a JSON manifest per run.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for tooling consumption)")
	rootCmd.PersistentFlags().String("config", "", "Path to a simrun.yaml config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newTargetsCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command: the
// --config file when given, otherwise defaults plus ./simrun.yaml plus
// environment overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
