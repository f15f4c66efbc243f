package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/amishk599/jobharvest/internal/model"
)

var (
	listLimit  int
	listOffset int
	listQuery  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored postings, newest first",
	RunE:  runList,
}

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum postings to show")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "postings to skip")
	listCmd.Flags().StringVarP(&listQuery, "query", "q", "", "only postings whose title or description contains this text")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a := newApp(ctx, wiring{})
	defer a.Close()

	var (
		postings []model.Posting
		err      error
	)
	if listQuery != "" {
		postings, err = a.pipeline.SearchText(ctx, listQuery, listLimit)
	} else {
		postings, err = a.pipeline.List(ctx, listLimit, listOffset)
	}
	if err != nil {
		return fmt.Errorf("list postings: %w", err)
	}
	printPostings(cmd.OutOrStdout(), postings)
	return nil
}
