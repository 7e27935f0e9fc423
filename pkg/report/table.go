package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethpandaops/laitest/pkg/analysis"
	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxLogWidth = 80

// RunsTable writes one row per run.
func RunsTable(w io.Writer, runs []store.Run) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "Name", "Status", "Total", "Passed", "Failed", "Created"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Total", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
	})

	for i := range runs {
		run := &runs[i]

		summary, err := analysis.Parse(run.Summary)
		if err != nil {
			summary = analysis.RunSummary{}
		}

		t.AppendRow(table.Row{
			run.ID,
			run.Name,
			string(run.Status),
			summary.Total,
			summary.Passed,
			summary.Failed,
			run.CreatedAt.Format(time.RFC3339),
		})
	}

	t.Render()
}

// RunTable writes a run's items followed by its failure clusters. The
// table color reflects the run outcome.
func RunTable(w io.Writer, run *store.Run, items []store.RunItem) {
	summary, err := analysis.Parse(run.Summary)
	if err != nil {
		summary = analysis.RunSummary{}
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("%s (%s)", run.Name, run.ID)

	t.AppendHeader(table.Row{"#", "Case", "Status", "Duration", "Log"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "#", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Log", WidthMax: maxLogWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, it := range items {
		t.AppendRow(table.Row{
			it.Seq,
			it.CaseID,
			string(it.Status),
			(time.Duration(it.DurationMS) * time.Millisecond).String(),
			firstLine(it.Log),
		})
	}

	switch {
	case run.Status == store.RunFailed || summary.Failed > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case run.Status == store.RunFinished:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		string(run.Status),
		"",
		runDuration(run),
		summaryLine(summary.Summary),
	})

	t.Render()

	if len(summary.FailedClusters) == 0 {
		return
	}

	c := table.NewWriter()
	c.SetOutputMirror(w)
	c.SetStyle(table.StyleLight)
	c.SetTitle("Failure clusters")
	c.AppendHeader(table.Row{"Count", "Message", "Example case"})
	c.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Count", Align: text.AlignRight},
		{Name: "Message", WidthMax: maxLogWidth, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, cl := range summary.FailedClusters {
		c.AppendRow(table.Row{cl.Count, cl.Message, cl.Example.CaseID})
	}

	c.Render()
}

func summaryLine(s analysis.Summary) string {
	return fmt.Sprintf("total=%d passed=%d failed=%d", s.Total, s.Passed, s.Failed)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}

	return s
}
