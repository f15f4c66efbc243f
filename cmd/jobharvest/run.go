package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	runDryRun    bool
	runFetchOnly bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one cycle and exit",
	Long: "Runs one full cycle: reload config, sync feeds, fetch, store, analyze and index.\n" +
		"--dry-run keeps everything in memory; --fetch-only stops before analysis.\n" +
		"\nThis is a separate process that writes the database and vector index. Do not run it\n" +
		"while a daemon is running against the same files; send the daemon SIGUSR1 instead.",
	RunE: runOnce,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use an in-memory store and skip indexing")
	runCmd.Flags().BoolVar(&runFetchOnly, "fetch-only", false, "fetch and store postings without analyzing them")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, wiring{
		dryRun:   runDryRun,
		analysis: true,
		index:    !runFetchOnly,
		notify:   !runDryRun,
	})
	defer a.Close()

	out := cmd.OutOrStdout()
	if runFetchOnly {
		report, err := a.pipeline.Ingest(ctx)
		printCycle(out, report)
		return err
	}

	report, err := a.pipeline.RunCycle(ctx)
	printCycle(out, report)
	if runDryRun {
		printPostings(out, report.Analysis.Postings)
	}
	return err
}
