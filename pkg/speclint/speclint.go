// Package speclint checks case spec documents before they are stored.
package speclint

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const specSchemaURL = "https://laitest.dev/schemas/case-spec.json"

// specSchemaJSON describes the step language the interpreter executes.
const specSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://laitest.dev/schemas/case-spec.json",
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": { "$ref": "#/$defs/step" }
    }
  },
  "$defs": {
    "step": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {
          "type": "string",
          "enum": ["pass", "sleep", "http_get"]
        }
      },
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "pass" } } },
          "then": {
            "properties": {
              "type": {},
              "message": { "type": "string" }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "sleep" } } },
          "then": {
            "properties": {
              "type": {},
              "seconds": { "type": "number", "minimum": 0 }
            },
            "additionalProperties": false
          }
        },
        {
          "if": { "properties": { "type": { "const": "http_get" } } },
          "then": {
            "required": ["url"],
            "properties": {
              "type": {},
              "url": { "type": "string", "minLength": 1 },
              "expect_status": { "type": "integer", "minimum": 100, "maximum": 599 },
              "expect_contains": { "type": "string" },
              "timeout_s": { "type": "number", "exclusiveMinimum": 0 }
            },
            "additionalProperties": false
          }
        }
      ]
    }
  }
}`

// Linter validates case specs. It is safe for concurrent use.
type Linter struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

// New compiles the spec schema.
func New() (*Linter, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(specSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal spec schema: %w", err)
	}

	if err := c.AddResource(specSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add spec schema resource: %w", err)
	}

	compiled, err := c.Compile(specSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile spec schema: %w", err)
	}

	return &Linter{
		schema:  compiled,
		printer: message.NewPrinter(language.English),
	}, nil
}

// Lint returns the problems found in a raw spec document for a case of
// the given kind, formatted as "<pointer>: <message>". An empty result
// means the spec is clean. Malformed JSON is reported as a violation.
func (l *Linter) Lint(kind string, raw []byte) []string {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return []string{fmt.Sprintf("/: invalid JSON: %v", err)}
	}

	var violations []string

	if err := l.schema.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return []string{"/: " + err.Error()}
		}

		violations = append(violations, l.collectViolations(verr)...)
	}

	violations = append(violations, kindViolations(kind, doc)...)

	sort.Strings(violations)

	return dedupe(violations)
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func (l *Linter) collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{fmt.Sprintf("%s: %s", pointer(verr.InstanceLocation), verr.ErrorKind.LocalizedString(l.printer))}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, l.collectViolations(cause)...)
	}

	return violations
}

// kindViolations reports checks the schema cannot express because they
// depend on the case kind.
func kindViolations(kind string, doc any) []string {
	switch kind {
	case "http", "demo":
	default:
		return []string{fmt.Sprintf("/: unsupported kind %q", kind)}
	}

	if kind == "http" {
		return nil
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil
	}

	steps, ok := obj["steps"].([]any)
	if !ok {
		return nil
	}

	var violations []string

	for i, raw := range steps {
		step, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		if step["type"] == "http_get" {
			violations = append(violations,
				fmt.Sprintf("/steps/%d/type: http_get step requires kind=http", i))
		}
	}

	return violations
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}

	return "/" + strings.Join(loc, "/")
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}

	out := in[:1]
	for _, v := range in[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}
