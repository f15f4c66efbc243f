package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobharvest/internal/scheduler"
	"github.com/amishk599/jobharvest/internal/vecindex"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the harvesting daemon",
	Long: "Start the scheduler daemon; blocks until SIGINT/SIGTERM.\n" +
		"Send SIGUSR1 to run a cycle immediately; it is skipped if a cycle is already running.",
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, wiring{analysis: true, index: true, notify: true})
	defer a.Close()

	// A model switch that changes the vector size needs a rebuild first.
	if err := a.index.CheckDimension(ctx); err != nil {
		if errors.Is(err, vecindex.ErrDimensionMismatch) {
			a.logger.Error("embedding model does not match the index, run `jobharvest rebuild`", "error", err)
		} else {
			a.logger.Error("embedding service unavailable", "error", err)
		}
		a.Close()
		os.Exit(1)
	}

	a.logger.Info("starting jobharvest",
		"rss_mode", a.cfg.RSSMode,
		"feeds", len(a.cfg.Feeds),
		"indexed", a.index.Len(),
		"database", a.cfg.Database.Path,
	)

	sched := scheduler.New(a.pipeline, a.cfg.Scheduler, a.logger)

	// The trigger signal asks for a cycle now, through the same slot as the
	// periodic loop.
	if triggerSignal != nil {
		go sched.ServeTriggers(ctx, triggerRequests(ctx, triggerSignal))
		a.logger.Info("on-demand cycles enabled", "signal", triggerSignal.String(), "pid", os.Getpid())
	}

	if err := sched.Run(ctx); err != nil {
		a.logger.Error("scheduler error", "error", err)
		return err
	}

	a.logger.Info("goodbye")
	return nil
}

