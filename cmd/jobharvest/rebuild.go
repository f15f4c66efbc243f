package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from the database",
	Long: "Discards the vector index and re-embeds every analyzed posting. Run it after\n" +
		"changing the embedding model or when the index and metadata disagree.",
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
}

func runRebuild(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, wiring{index: true})
	defer a.Close()

	n, err := a.pipeline.RebuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d postings, dimension %d\n",
		titleStyle.Render("Rebuilt index:"), n, a.index.Dimension())
	return nil
}
