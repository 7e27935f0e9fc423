// Package casefile reads and writes test cases as YAML documents.
package casefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
)

// ErrMissingTitle is returned for an entry without a title.
var ErrMissingTitle = errors.New("missing title")

// File is the top level YAML document.
type File struct {
	Cases []Entry `yaml:"cases"`
}

// Entry is one case in a file. Identifiers and timestamps are not part
// of the format; importing always creates new cases.
type Entry struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Kind        string         `yaml:"kind,omitempty"`
	SuiteID     string         `yaml:"suite_id,omitempty"`
	Spec        map[string]any `yaml:"spec,omitempty"`
}

// Decode parses a case file. Every entry must have a title.
func Decode(r io.Reader) ([]Entry, error) {
	var f File

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}

		return nil, fmt.Errorf("decoding case file: %w", err)
	}

	for i := range f.Cases {
		f.Cases[i].Title = strings.TrimSpace(f.Cases[i].Title)
		if f.Cases[i].Title == "" {
			return nil, fmt.Errorf("case %d: %w", i, ErrMissingTitle)
		}
	}

	return f.Cases, nil
}

// Encode writes cases as a case file.
func Encode(w io.Writer, cases []store.Case) error {
	f := File{Cases: make([]Entry, 0, len(cases))}

	for i := range cases {
		entry, err := FromCase(&cases[i])
		if err != nil {
			return err
		}

		f.Cases = append(f.Cases, entry)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(&f); err != nil {
		return fmt.Errorf("encoding case file: %w", err)
	}

	return enc.Close()
}

// FromCase converts a stored case into a file entry.
func FromCase(c *store.Case) (Entry, error) {
	entry := Entry{
		Title:       c.Title,
		Description: c.Description,
		Tags:        []string(c.Tags),
		Kind:        c.Kind,
	}

	if c.SuiteID != nil {
		entry.SuiteID = *c.SuiteID
	}

	if len(c.Spec) > 0 {
		if err := json.Unmarshal(c.Spec, &entry.Spec); err != nil {
			return Entry{}, fmt.Errorf("case %s: decoding spec: %w", c.ID, err)
		}
	}

	return entry, nil
}

// ToCase builds a new case in projectID. A suite id on the entry wins
// over suiteID.
func (e Entry) ToCase(projectID, suiteID string) (*store.Case, error) {
	kind := e.Kind
	if kind == "" {
		kind = store.KindHTTP
	}

	spec := datatypes.JSON(`{}`)

	if e.Spec != nil {
		raw, err := json.Marshal(e.Spec)
		if err != nil {
			return nil, fmt.Errorf("case %q: encoding spec: %w", e.Title, err)
		}

		spec = raw
	}

	if e.SuiteID != "" {
		suiteID = e.SuiteID
	}

	c := &store.Case{
		ProjectID:   projectID,
		Title:       e.Title,
		Description: e.Description,
		Tags:        datatypes.JSONSlice[string](e.Tags),
		Kind:        kind,
		Spec:        spec,
	}

	if suiteID != "" {
		c.SuiteID = &suiteID
	}

	return c, nil
}
