// Package report renders run results as HTML pages and terminal tables.
package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/laitest/pkg/analysis"
	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/sysinfo"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

var runTemplate = template.Must(template.ParseFS(templatesFS, "templates/run.html.tmpl"))

// ContentTypeHTML is the content type of rendered reports.
const ContentTypeHTML = "text/html; charset=utf-8"

type htmlData struct {
	Run         *store.Run
	Duration    string
	SummaryJSON string
	Clusters    []htmlCluster
	Items       []htmlItem
	System      *sysinfo.Info
}

type htmlCluster struct {
	Count       int
	Message     string
	ExampleJSON string
}

type htmlItem struct {
	Status     string
	Class      string
	CaseID     string
	DurationMS int64
	Log        string
}

// RenderHTML writes a standalone HTML report for a run. sys may be nil.
func RenderHTML(w io.Writer, run *store.Run, items []store.RunItem, sys *sysinfo.Info) error {
	summary, err := analysis.Parse(run.Summary)
	if err != nil {
		return err
	}

	summaryJSON, err := indentJSON(run.Summary)
	if err != nil {
		return err
	}

	data := htmlData{
		Run:         run,
		Duration:    runDuration(run),
		SummaryJSON: summaryJSON,
		System:      sys,
	}

	for _, c := range summary.FailedClusters {
		example, err := json.MarshalIndent(c.Example, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding cluster example: %w", err)
		}

		data.Clusters = append(data.Clusters, htmlCluster{
			Count:       c.Count,
			Message:     c.Message,
			ExampleJSON: string(example),
		})
	}

	for _, it := range items {
		data.Items = append(data.Items, htmlItem{
			Status:     string(it.Status),
			Class:      statusClass(it.Status),
			CaseID:     it.CaseID,
			DurationMS: it.DurationMS,
			Log:        it.Log,
		})
	}

	if err := runTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}

	return nil
}

// HTML renders the report into memory.
func HTML(run *store.Run, items []store.RunItem, sys *sysinfo.Info) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, run, items, sys); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func statusClass(status store.ItemStatus) string {
	switch status {
	case store.ItemPassed:
		return "ok"
	case store.ItemFailed:
		return "bad"
	default:
		return "q"
	}
}

func indentJSON(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("formatting summary: %w", err)
	}

	return buf.String(), nil
}

// runDuration returns a human readable wall time for runs that have
// started, measured to now for runs still in progress.
func runDuration(run *store.Run) string {
	if run.StartedAt == nil {
		return ""
	}

	end := time.Now()
	if run.FinishedAt != nil {
		end = *run.FinishedAt
	}

	d := end.Sub(*run.StartedAt)
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return units.HumanDuration(d)
}
