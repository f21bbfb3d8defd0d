package app

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/samvad-hq/review-harvester/internal/crawler"
)

// RenderSummary writes the run summary as a table to w and returns the rendered text.
func RenderSummary(w io.Writer, summary crawler.RunSummary) string {
	t := table.NewWriter()
	if w != nil {
		t.SetOutputMirror(w)
	}
	t.SetTitle(fmt.Sprintf("Run %s (%s)", summary.StartedAt.Format(time.RFC3339), summary.Status()))
	t.AppendHeader(table.Row{"Source", "Sheet", "Status", "Crawled", "Uploaded", "Duplicates", "Filtered", "Skipped pages", "Elapsed", "Error"})

	for _, src := range summary.Sources {
		t.AppendRow(table.Row{
			src.SourceID,
			src.Sheet,
			src.Status,
			src.Crawled,
			src.Uploaded,
			src.Duplicates,
			src.Filtered,
			src.SkippedPages,
			src.Elapsed.Round(time.Millisecond).String(),
			src.Error,
		})
	}

	t.AppendFooter(table.Row{
		"Total",
		"",
		fmt.Sprintf("%d failed", summary.Failed),
		summary.Crawled,
		summary.Uploaded,
		summary.Duplicates,
		summary.Filtered,
		summary.Skipped,
		summary.Elapsed.Round(time.Millisecond).String(),
		"",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 10, WidthMax: 60},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 8, Align: text.AlignRight},
	})
	t.SetStyle(table.StyleRounded)
	return t.Render()
}
