package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/vecindex"
)

var (
	searchWithin string
	searchRaw    bool
	searchTopK   int
	searchFull   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over analyzed postings",
	Long: "Expands the query with related terms and searches the vector index.\n" +
		"--within accepts \"past 3 months\", \"past 6 months\" or \"past 1 year\".\n" +
		"--raw skips expansion and recency filtering and returns the top-k nearest postings.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchWithin, "within", "", "recency filter label, e.g. \"past 6 months\"")
	searchCmd.Flags().BoolVar(&searchRaw, "raw", false, "plain nearest-neighbour search")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 5, "number of results for --raw")
	searchCmd.Flags().BoolVar(&searchFull, "analysis", false, "print an excerpt of each analysis")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchWithin != "" && vecindex.FilterDays(searchWithin) == 0 {
		return fmt.Errorf("unrecognised --within %q", searchWithin)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(ctx, wiring{analysis: !searchRaw, index: true})
	defer a.Close()

	query := strings.Join(args, " ")
	var (
		hits []model.SearchHit
		err  error
	)
	if searchRaw {
		hits, err = a.pipeline.Search(ctx, query, searchTopK)
	} else {
		hits, err = a.pipeline.SemanticSearch(ctx, query, searchWithin)
	}
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	printHits(cmd.OutOrStdout(), hits, searchFull)
	return nil
}
