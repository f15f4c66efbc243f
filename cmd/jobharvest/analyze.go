package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze and index pending postings",
	Long: "Analyzes every stored posting that has no analysis yet, then adds them to the vector index.\n" +
		"\nThis is a separate process that writes the database and vector index. Do not run it\n" +
		"while a daemon is running against the same files; send the daemon SIGUSR1 instead.",
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, wiring{analysis: true, index: true, notify: true})
	defer a.Close()

	report, err := a.pipeline.AnalyzePending(ctx)
	printAnalyze(cmd.OutOrStdout(), report)
	return err
}
