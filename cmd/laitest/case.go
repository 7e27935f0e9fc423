package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/casefile"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/speclint"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"
)

const defaultCaseSpec = `{"steps":[{"type":"pass","message":"demo pass"}]}`

// Flags are shared between subcommands; only one runs per process. Every
// shared flag uses the same default everywhere.
var caseFlags struct {
	projectID   string
	suiteID     string
	title       string
	createTitle string
	description string
	tags        []string
	kind        string
	spec        string
	specFile    string
	file        string
}

var caseCmd = &cobra.Command{
	Use:   "case",
	Short: "Manage test cases",
}

var caseCreateCmd = &cobra.Command{
	Use:   "create <project-id>",
	Short: "Create a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := readSpecFlag(defaultCaseSpec)
		if err != nil {
			return err
		}

		projectID := strings.TrimSpace(args[0])
		title := strings.TrimSpace(caseFlags.createTitle)

		if projectID == "" || title == "" {
			return fmt.Errorf("missing project_id or title")
		}

		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
			if err := checkStrictSpec(cfg, caseFlags.kind, spec); err != nil {
				return err
			}

			c := &store.Case{
				ProjectID:   projectID,
				SuiteID:     optionalID(strings.TrimSpace(caseFlags.suiteID)),
				Title:       title,
				Description: caseFlags.description,
				Tags:        datatypes.JSONSlice[string](caseFlags.tags),
				Kind:        caseFlags.kind,
				Spec:        spec,
			}

			if err := st.CreateCase(ctx, c); err != nil {
				return err
			}

			return printJSON(map[string]any{"case": c})
		})
	},
}

var caseListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			cases, err := st.ListCases(ctx, store.CaseFilter{
				ProjectID: caseFlags.projectID,
				SuiteID:   caseFlags.suiteID,
			})
			if err != nil {
				return err
			}

			return printJSON(map[string]any{"cases": cases})
		})
	},
}

var caseUpdateCmd = &cobra.Command{
	Use:   "update <case-id>",
	Short: "Update the given fields of a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()

		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
			c, err := st.GetCase(ctx, args[0])
			if err != nil {
				return err
			}

			if t := strings.TrimSpace(caseFlags.title); t != "" {
				c.Title = t
			}

			if flags.Changed("description") {
				c.Description = caseFlags.description
			}

			if flags.Changed("tag") {
				c.Tags = datatypes.JSONSlice[string](caseFlags.tags)
			}

			if flags.Changed("kind") {
				c.Kind = caseFlags.kind
			}

			if flags.Changed("suite-id") {
				c.SuiteID = optionalID(strings.TrimSpace(caseFlags.suiteID))
			}

			if flags.Changed("spec") || flags.Changed("spec-file") {
				spec, err := readSpecFlag("")
				if err != nil {
					return err
				}

				c.Spec = spec
			}

			if err := checkStrictSpec(cfg, c.Kind, c.Spec); err != nil {
				return err
			}

			if err := st.UpdateCase(ctx, c); err != nil {
				return err
			}

			return printJSON(map[string]any{"case": c})
		})
	},
}

var caseDeleteCmd = &cobra.Command{
	Use:   "delete <case-id>",
	Short: "Delete a case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			if err := st.DeleteCase(ctx, args[0]); err != nil {
				return err
			}

			return printJSON(map[string]any{"ok": true})
		})
	},
}

var caseLintCmd = &cobra.Command{
	Use:   "lint [case-id...]",
	Short: "Lint stored cases, or the --spec/--spec-file document",
	RunE: func(cmd *cobra.Command, args []string) error {
		linter, err := speclint.New()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			spec, err := readSpecFlag("")
			if err != nil {
				return err
			}

			violations := linter.Lint(caseFlags.kind, spec)

			if err := printJSON(lintResult{OK: len(violations) == 0, Violations: nonNil(violations)}); err != nil {
				return err
			}

			return lintExit(len(violations))
		}

		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			results := make([]lintResult, 0, len(args))
			failed := 0

			for _, id := range args {
				c, err := st.GetCase(ctx, id)
				if err != nil {
					return err
				}

				violations := linter.Lint(c.Kind, c.Spec)
				if len(violations) > 0 {
					failed++
				}

				results = append(results, lintResult{
					CaseID:     c.ID,
					OK:         len(violations) == 0,
					Violations: nonNil(violations),
				})
			}

			if err := printJSON(map[string]any{"results": results}); err != nil {
				return err
			}

			return lintExit(failed)
		})
	},
}

var caseImportCmd = &cobra.Command{
	Use:   "import <project-id>",
	Short: "Create cases from a YAML case file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readCaseFile(caseFlags.file)
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
			ids := make([]string, 0, len(entries))

			for _, entry := range entries {
				c, err := entry.ToCase(args[0], caseFlags.suiteID)
				if err != nil {
					return err
				}

				if err := checkStrictSpec(cfg, c.Kind, c.Spec); err != nil {
					return fmt.Errorf("case %q: %w", c.Title, err)
				}

				if err := st.CreateCase(ctx, c); err != nil {
					return err
				}

				ids = append(ids, c.ID)
			}

			log.WithField("count", len(ids)).Info("Imported cases")

			return printJSON(map[string]any{"created_case_ids": ids})
		})
	},
}

var caseExportCmd = &cobra.Command{
	Use:   "export <project-id>",
	Short: "Write a project's cases as a YAML case file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			cases, err := st.ListCases(ctx, store.CaseFilter{
				ProjectID: args[0],
				SuiteID:   caseFlags.suiteID,
			})
			if err != nil {
				return err
			}

			if caseFlags.file == "" || caseFlags.file == "-" {
				return casefile.Encode(os.Stdout, cases)
			}

			f, err := os.Create(caseFlags.file)
			if err != nil {
				return fmt.Errorf("creating case file: %w", err)
			}

			if err := casefile.Encode(f, cases); err != nil {
				_ = f.Close()

				return err
			}

			return f.Close()
		})
	},
}

func readCaseFile(path string) ([]casefile.Entry, error) {
	if path == "" || path == "-" {
		return casefile.Decode(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening case file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return casefile.Decode(f)
}

type lintResult struct {
	CaseID     string   `json:"case_id,omitempty"`
	OK         bool     `json:"ok"`
	Violations []string `json:"violations"`
}

func lintExit(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d spec(s) failed lint", failed)
	}

	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

// readSpecFlag returns the --spec-file or --spec document, or fallback
// when neither is set. The document must be valid JSON.
func readSpecFlag(fallback string) (datatypes.JSON, error) {
	raw := []byte(caseFlags.spec)

	if caseFlags.specFile != "" {
		data, err := os.ReadFile(caseFlags.specFile)
		if err != nil {
			return nil, fmt.Errorf("reading spec file: %w", err)
		}

		raw = data
	}

	if len(raw) == 0 {
		raw = []byte(fallback)
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("--spec or --spec-file is required")
	}

	if !json.Valid(raw) {
		return nil, fmt.Errorf("spec is not valid JSON")
	}

	return datatypes.JSON(raw), nil
}

// checkStrictSpec enforces api.strict_specs for CLI writes as well.
func checkStrictSpec(cfg *config.Config, kind string, spec []byte) error {
	if !cfg.API.StrictSpecs {
		return nil
	}

	linter, err := speclint.New()
	if err != nil {
		return err
	}

	if violations := linter.Lint(kind, spec); len(violations) > 0 {
		return fmt.Errorf("invalid spec: %s", strings.Join(violations, "; "))
	}

	return nil
}

func init() {
	caseCreateCmd.Flags().StringVar(&caseFlags.createTitle, "title", "demo pass", "case title")
	caseUpdateCmd.Flags().StringVar(&caseFlags.title, "title", "", "new title")

	for _, cmd := range []*cobra.Command{caseCreateCmd, caseUpdateCmd} {
		cmd.Flags().StringVar(&caseFlags.suiteID, "suite-id", "", "suite the case belongs to")
		cmd.Flags().StringVar(&caseFlags.description, "description", "", "case description")
		cmd.Flags().StringSliceVar(&caseFlags.tags, "tag", nil, "case tag (repeatable)")
	}

	for _, cmd := range []*cobra.Command{caseCreateCmd, caseUpdateCmd, caseLintCmd} {
		cmd.Flags().StringVar(&caseFlags.kind, "kind", store.KindHTTP, "case kind (http, demo)")
		cmd.Flags().StringVar(&caseFlags.spec, "spec", "", "spec as a JSON document")
		cmd.Flags().StringVar(&caseFlags.specFile, "spec-file", "", "read the spec JSON from a file")
	}

	caseListCmd.Flags().StringVar(&caseFlags.projectID, "project-id", "", "only list cases of this project")
	caseListCmd.Flags().StringVar(&caseFlags.suiteID, "suite-id", "", "only list cases of this suite")

	caseImportCmd.Flags().StringVarP(&caseFlags.file, "file", "f", "-", "YAML case file, - for stdin")
	caseImportCmd.Flags().StringVar(&caseFlags.suiteID, "suite-id", "", "suite for entries without one")

	caseExportCmd.Flags().StringVarP(&caseFlags.file, "file", "f", "-", "output file, - for stdout")
	caseExportCmd.Flags().StringVar(&caseFlags.suiteID, "suite-id", "", "only export cases of this suite")

	caseCmd.AddCommand(
		caseCreateCmd, caseListCmd, caseUpdateCmd, caseDeleteCmd,
		caseLintCmd, caseImportCmd, caseExportCmd,
	)
	rootCmd.AddCommand(caseCmd)
}
