package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobharvest/internal/ai"
	"github.com/amishk599/jobharvest/internal/config"
	"github.com/amishk599/jobharvest/internal/embedding"
	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/notifier"
	"github.com/amishk599/jobharvest/internal/pipeline"
	"github.com/amishk599/jobharvest/internal/store"
	"github.com/amishk599/jobharvest/internal/vecindex"
)

var (
	cfgPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "jobharvest",
	Short: "Harvest, analyze and search job postings from RSS feeds",
	Long: "jobharvest polls RSS feeds or a feed reader for job postings, filters them for relevance,\n" +
		"analyzes each with an LLM and keeps a semantic index for search.",
	// No subcommand runs the daemon.
	RunE:         runStart,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: JOBHARVEST_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// resolveConfigPath applies: explicit flag > JOBHARVEST_CONFIG > "./config.yaml".
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("JOBHARVEST_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func loadConfig(path string) (*config.File, *config.Config, error) {
	file := config.NewFile(resolveConfigPath(path))
	cfg, err := file.Load()
	if err != nil {
		return nil, nil, err
	}
	return file, cfg, nil
}

func setupLogger(dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func setupNotifier(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) model.Notifier {
	switch cfg.Notification.Type {
	case "slack":
		logger.Info("using slack notifier")
		return notifier.NewSlackNotifier(cfg.Notification.WebhookURL, httpClient, logger)
	default:
		return notifier.NewLogNotifier(logger)
	}
}

// fatal logs and exits; commands use it for setup errors.
func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

// wiring says which collaborators a command needs.
type wiring struct {
	dryRun   bool // memory store, no index, watermark not saved
	analysis bool
	index    bool
	notify   bool
}

// app holds the collaborators built for one command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    model.PostingStore
	analysis *ai.Service
	index    *vecindex.Index
	pipeline *pipeline.Pipeline
	closers  []func() error
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// newApp loads the config and wires what w asks for. Setup errors are fatal.
func newApp(ctx context.Context, w wiring) *app {
	logger := setupLogger(debug)

	file, cfg, err := loadConfig(cfgPath)
	if err != nil {
		fatal(logger, "failed to load config", err)
	}
	logger.Debug("config loaded",
		"rss_mode", cfg.RSSMode,
		"feeds", len(cfg.Feeds),
		"keywords", len(cfg.Keywords),
		"llm", cfg.LLM.Provider,
		"embedding", cfg.Embedding.Provider,
	)

	a := &app{cfg: cfg, logger: logger}
	deps := pipeline.Deps{
		Config:     file,
		Watermarks: file,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}

	if w.dryRun {
		logger.Info("dry-run mode: nothing is persisted")
		a.store = store.NewMemoryStore()
		deps.Watermarks = nil
		w.index = false
	} else {
		sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			fatal(logger, "failed to open store", err)
		}
		a.store = sqlStore
		a.closers = append(a.closers, sqlStore.Close)
	}
	deps.Store = a.store

	if w.analysis {
		a.analysis, err = ai.NewServiceFromConfig(cfg.LLM, logger)
		if err != nil {
			fatal(logger, "failed to set up analysis service", err)
		}
		deps.Analysis = a.analysis
	}

	if w.index {
		a.index = openIndex(ctx, cfg, a.analysis, logger)
		deps.Index = a.index
	}

	if w.notify {
		deps.Notifier = setupNotifier(cfg, deps.HTTPClient, logger)
	}

	a.pipeline = pipeline.New(deps)
	return a
}

func openIndex(ctx context.Context, cfg *config.Config, analysis *ai.Service, logger *slog.Logger) *vecindex.Index {
	embedder, err := embedding.New(ctx, cfg.Embedding)
	if err != nil {
		fatal(logger, "failed to set up embedding service", err)
	}

	var expander vecindex.Expander
	if analysis != nil {
		expander = analysis
	}
	ix, err := vecindex.Open(ctx, vecindex.Paths{
		Index:    cfg.VectorStore.IndexPath,
		Metadata: cfg.VectorStore.MetadataPath,
	}, embedder, expander, logger, vecindex.WithRebuildBatchSize(cfg.VectorStore.RebuildBatchSize))
	if err != nil {
		fatal(logger, "failed to open vector index", err)
	}
	return ix
}
