package main

import (
	"context"

	"github.com/spf13/cobra"
)

var processBatchSize int

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run exactly one claim-publish-settle cycle and exit",
	RunE:  runProcess,
}

func init() {
	processCmd.Flags().IntVar(&processBatchSize, "batch-size", 0, "override configured batch size for this run (0 = use config)")
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if processBatchSize > 0 {
		cfg.Batch.Size = processBatchSize
	}

	a, err := wire(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.store.Ping(ctx); err != nil {
		return err
	}

	result := a.proc.Process(ctx)
	a.log.Info().
		Int("claimed", result.Claimed).
		Int("published", result.Published).
		Int("failed", result.Failed).
		Int("discarded", result.Discarded).
		Dur("duration", result.Duration).
		Msg("cycle complete")

	for _, e := range result.Errors {
		a.log.Warn().Str("error", e).Msg("cycle error")
	}
	return nil
}
