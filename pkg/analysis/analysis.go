// Package analysis computes run summaries and clusters failed items by
// their leading log line.
package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Item statuses counted by the aggregator.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

const (
	// MaxClusters caps the number of clusters returned.
	MaxClusters = 10

	// MaxExampleLogRunes caps the example log kept per cluster.
	MaxExampleLogRunes = 4000

	unknownKey = "unknown"
)

// Item is the subset of a run item the aggregator reads.
type Item struct {
	CaseID string
	Status string
	Log    string
}

// Summary holds item counts for a run.
type Summary struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Example is the first failed item seen for a cluster.
type Example struct {
	CaseID string `json:"case_id"`
	Log    string `json:"log"`
}

// Cluster groups failed items that share a first log line.
type Cluster struct {
	Message string  `json:"message"`
	Count   int     `json:"count"`
	Example Example `json:"example"`
}

// Analysis is the failure clustering of a run.
type Analysis struct {
	FailedClusters []Cluster `json:"failed_clusters"`
}

// RunSummary is the document persisted on a finished run.
type RunSummary struct {
	Summary
	Analysis
}

// SummarizeRun counts items. Items that are neither passed nor failed
// count only toward the total.
func SummarizeRun(items []Item) Summary {
	s := Summary{Total: len(items)}

	for _, it := range items {
		switch it.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		}
	}

	return s
}

// AnalyzeFailures clusters failed items by the first line of their
// trimmed log. Clusters are ordered by count, ties keep first-seen order,
// and at most MaxClusters are returned.
func AnalyzeFailures(items []Item) Analysis {
	var (
		order    []string
		clusters = make(map[string]*Cluster)
	)

	for _, it := range items {
		if it.Status != StatusFailed {
			continue
		}

		key := clusterKey(it.Log)

		c, ok := clusters[key]
		if !ok {
			c = &Cluster{
				Message: key,
				Example: Example{CaseID: it.CaseID, Log: truncateRunes(it.Log, MaxExampleLogRunes)},
			}
			clusters[key] = c
			order = append(order, key)
		}

		c.Count++
	}

	out := make([]Cluster, 0, len(order))
	for _, key := range order {
		out = append(out, *clusters[key])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})

	if len(out) > MaxClusters {
		out = out[:MaxClusters]
	}

	return Analysis{FailedClusters: out}
}

// Build merges the summary and failure analysis of items.
func Build(items []Item) RunSummary {
	return RunSummary{
		Summary:  SummarizeRun(items),
		Analysis: AnalyzeFailures(items),
	}
}

// Marshal encodes the summary for storage.
func (s RunSummary) Marshal() ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding run summary: %w", err)
	}

	return raw, nil
}

// Parse decodes a stored summary. An empty document yields a zero
// summary.
func Parse(raw []byte) (RunSummary, error) {
	var s RunSummary

	if len(raw) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decoding run summary: %w", err)
	}

	return s, nil
}

func clusterKey(log string) string {
	trimmed := strings.TrimFunc(log, isStripSpace)
	if trimmed == "" {
		return unknownKey
	}

	if idx := strings.IndexFunc(trimmed, isLineBreak); idx >= 0 {
		return trimmed[:idx]
	}

	return trimmed
}

// isStripSpace extends unicode.IsSpace with the file, group, record and
// unit separators, which are also trimmed from logs.
func isStripSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// isLineBreak matches the line boundaries recognised when splitting logs,
// including the Unicode separators and control characters some servers
// emit.
func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}

	return false
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}

	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
