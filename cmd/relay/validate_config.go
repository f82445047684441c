package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/outboxrelay/relay/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate configuration without starting the relay",
	RunE:  runValidateConfig,
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: mode=%s consumer=%s batch_size=%d\n",
		cfg.Relay.Mode, cfg.Relay.ConsumerName, cfg.Batch.Size)
	return nil
}
