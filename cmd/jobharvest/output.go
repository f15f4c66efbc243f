package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/amishk599/jobharvest/internal/model"
	"github.com/amishk599/jobharvest/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(18)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

func printHits(w io.Writer, hits []model.SearchHit, showAnalysis bool) {
	if len(hits) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No matching postings."))
		return
	}
	for i, h := range hits {
		fmt.Fprintf(w, "%s %s\n", dimStyle.Render(fmt.Sprintf("%2d.", i+1)), titleStyle.Render(h.Title))
		fmt.Fprintf(w, "    %s  %s\n", scoreStyle.Render(fmt.Sprintf("%.3f", h.Score)), dimStyle.Render(h.Source+"  "+h.Published))
		fmt.Fprintf(w, "    %s\n", h.Link)
		if showAnalysis && h.Analysis != "" {
			fmt.Fprintf(w, "    %s\n", truncate(strings.ReplaceAll(h.Analysis, "\n", " "), 240))
		}
		fmt.Fprintln(w)
	}
}

func printPostings(w io.Writer, postings []model.Posting) {
	if len(postings) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No postings."))
		return
	}
	t := newTable("Title", "Source", "Published", "Score", "Analyzed")
	for _, p := range postings {
		score := "-"
		if p.RelevanceScore > 0 {
			score = strconv.Itoa(p.RelevanceScore)
		}
		analyzed := "no"
		if p.Analyzed {
			analyzed = "yes"
		}
		t.Row(truncate(p.Title, 60), truncate(p.Source, 24), truncate(p.Published, 32), score, analyzed)
	}
	fmt.Fprintln(w, t.Render())
}

func printStats(w io.Writer, s model.Stats) {
	fmt.Fprintln(w, titleStyle.Render("Record store"))
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Total postings"), s.Total)
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Analyzed"), s.Analyzed)
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Pending analysis"), s.Pending)
}

func printCycle(w io.Writer, r pipeline.CycleReport) {
	fmt.Fprintln(w, titleStyle.Render("Cycle "+r.CycleID))
	fmt.Fprintf(w, "%s%s\n", labelStyle.Render("Provider"), r.Mode)
	if r.Synced != nil {
		fmt.Fprintf(w, "%s%d added, %d existing, %d failed\n", labelStyle.Render("Feeds synced"),
			len(r.Synced.Added), len(r.Synced.Existed), len(r.Synced.Failed))
	}
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Fetched"), r.Fetched)
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Inserted"), r.Inserted)
	printAnalyze(w, r.Analysis)
	if r.Duration > 0 {
		fmt.Fprintf(w, "%s%s\n", labelStyle.Render("Duration"), r.Duration.Round(time.Millisecond))
	}
}

func printAnalyze(w io.Writer, r pipeline.AnalyzeReport) {
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Pending"), r.Pending)
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Analyzed"), r.Analyzed)
	if r.Failed > 0 {
		fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Failed"), r.Failed)
	}
	fmt.Fprintf(w, "%s%d\n", labelStyle.Render("Indexed"), r.Indexed)
}
