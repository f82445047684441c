// Command relay runs the transactional outbox relay: start it as a
// continuous service, drive one batch cycle by hand, inspect its running
// statistics, reset a tripped circuit breaker, or validate a configuration
// file before deploying it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outboxrelay/relay/internal/config"
	"github.com/outboxrelay/relay/internal/logging"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Outbox relay: moves durably persisted domain events onto the broker",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional; env vars always apply on top)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCBCmd)
	rootCmd.AddCommand(validateConfigCmd)
}

// loadConfig loads and validates config, and initializes the process-wide
// logger from it. Every subcommand goes through this.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.Log)
	return cfg, nil
}
