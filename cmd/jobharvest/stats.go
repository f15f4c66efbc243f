package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database counts",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := newApp(ctx, wiring{})
	defer a.Close()

	stats, err := a.pipeline.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	printStats(cmd.OutOrStdout(), stats)
	return nil
}
