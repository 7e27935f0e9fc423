// Package generator drafts test cases from free-text requirements.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"gorm.io/datatypes"
)

// ProviderLocal names the offline heuristic provider.
const ProviderLocal = "local"

const (
	generatedDescription = "(auto) generated from prompt"
	generatedStepMessage = "generated demo step (replace with real http/api steps)"

	// lineTrimChars are stripped from both ends of each prompt line so
	// bullet lists turn into plain titles.
	lineTrimChars = " \t-•*"
)

// Suggestion is a drafted case. Its spec has the same shape as a manually
// authored one.
type Suggestion struct {
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description" yaml:"description"`
	Tags        []string       `json:"tags" yaml:"tags"`
	Kind        string         `json:"kind" yaml:"kind"`
	Spec        map[string]any `json:"spec" yaml:"spec"`
}

// Case converts the suggestion into a new case of projectID. suiteID may
// be nil.
func (s Suggestion) Case(projectID string, suiteID *string) (*store.Case, error) {
	spec, err := json.Marshal(s.Spec)
	if err != nil {
		return nil, fmt.Errorf("encoding suggestion spec: %w", err)
	}

	return &store.Case{
		ProjectID:   projectID,
		SuiteID:     suiteID,
		Title:       s.Title,
		Description: s.Description,
		Tags:        datatypes.JSONSlice[string](s.Tags),
		Kind:        s.Kind,
		Spec:        spec,
	}, nil
}

// Generator turns a prompt into zero or more suggested cases.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]Suggestion, error)
	Provider() string
}

// NewLocal returns the offline heuristic generator. maxSuggestions caps
// the number of lines turned into cases.
func NewLocal(maxSuggestions int) Generator {
	if maxSuggestions <= 0 {
		maxSuggestions = 50
	}

	return &local{max: maxSuggestions}
}

type local struct {
	max int
}

// Ensure interface compliance.
var _ Generator = (*local)(nil)

func (l *local) Provider() string {
	return ProviderLocal
}

// Generate makes one demo case per non-empty prompt line.
func (l *local) Generate(_ context.Context, prompt string) ([]Suggestion, error) {
	text := strings.TrimSpace(prompt)
	if text == "" {
		return []Suggestion{}, nil
	}

	out := make([]Suggestion, 0)

	for _, line := range splitLines(text) {
		line = strings.Trim(line, lineTrimChars)
		if line == "" {
			continue
		}

		if len(out) == l.max {
			break
		}

		out = append(out, Suggestion{
			Title:       line,
			Description: generatedDescription,
			Tags:        tagsFor(line),
			Kind:        store.KindDemo,
			Spec: map[string]any{
				"steps": []any{
					map[string]any{
						"type":    "pass",
						"message": generatedStepMessage,
					},
				},
			},
		})
	}

	return out, nil
}

func tagsFor(line string) []string {
	low := strings.ToLower(line)
	tags := []string{}

	if strings.Contains(low, "login") || strings.Contains(low, "sign in") {
		tags = append(tags, "auth")
	}

	if strings.Contains(low, "payment") || strings.Contains(low, "checkout") {
		tags = append(tags, "payment")
	}

	if strings.Contains(low, "api") {
		tags = append(tags, "api")
	}

	return tags
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	})
}
