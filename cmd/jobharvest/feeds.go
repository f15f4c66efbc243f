package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobharvest/internal/provider"
)

var feedsSync bool

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "List configured feeds",
	Long: "Prints the configured feeds and the provider mode they resolve to.\n" +
		"--sync pushes them to Miniflux now instead of waiting for the next cycle.",
	RunE: runFeeds,
}

func init() {
	feedsCmd.Flags().BoolVar(&feedsSync, "sync", false, "subscribe the remote reader to every configured feed")
	rootCmd.AddCommand(feedsCmd)
}

func runFeeds(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)
	_, cfg, err := loadConfig(cfgPath)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}

	mode, err := provider.ResolveMode(cfg.RSSMode, cfg.Credentials)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s%s\n", labelStyle.Render("Provider"), mode)
	t := newTable("Name", "Category", "URL")
	for _, f := range cfg.Feeds {
		t.Row(f.Name, f.Category, f.URL)
	}
	fmt.Fprintln(out, t.Render())
	fmt.Fprintf(out, "\nTotal: %d feeds\n", len(cfg.Feeds))

	if !feedsSync {
		return nil
	}
	handle, err := provider.Build(cfg, provider.Deps{
		Client: &http.Client{Timeout: 30 * time.Second},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if handle.Syncer == nil {
		return fmt.Errorf("provider %s does not sync feeds", handle.Mode)
	}
	report, err := handle.Syncer.SyncFeeds(context.Background(), cfg.Feeds)
	if err != nil {
		return fmt.Errorf("sync feeds: %w", err)
	}
	fmt.Fprintf(out, "%s%d added, %d existing, %d failed\n", labelStyle.Render("Synced"),
		len(report.Added), len(report.Existed), len(report.Failed))
	for _, name := range report.Failed {
		fmt.Fprintf(out, "  %s %s\n", dimStyle.Render("failed:"), name)
	}
	return nil
}
