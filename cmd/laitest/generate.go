package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/generator"
	"github.com/spf13/cobra"
)

var generateFlags struct {
	prompt     string
	promptFile string
	projectID  string
	suiteID    string
	create     bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Draft cases from a free-text prompt",
	Long: `Turn each non-empty line of the prompt into a suggested demo case.
With --create and --project-id the suggestions are stored as cases, up to
generator.max_create of them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := generateFlags.prompt

		if generateFlags.promptFile != "" {
			data, err := os.ReadFile(generateFlags.promptFile)
			if err != nil {
				return fmt.Errorf("reading prompt file: %w", err)
			}

			prompt = string(data)
		}

		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("--prompt or --prompt-file is required")
		}

		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
			gen := generator.NewLocal(cfg.Generator.MaxSuggestions)

			suggestions, err := gen.Generate(ctx, prompt)
			if err != nil {
				return err
			}

			created := []string{}

			if generateFlags.create {
				if generateFlags.projectID == "" {
					return fmt.Errorf("--create requires --project-id")
				}

				limit := min(len(suggestions), cfg.Generator.MaxCreate)

				for _, sg := range suggestions[:limit] {
					c, err := sg.Case(generateFlags.projectID, optionalID(generateFlags.suiteID))
					if err != nil {
						return err
					}

					if err := st.CreateCase(ctx, c); err != nil {
						return err
					}

					created = append(created, c.ID)
				}
			}

			return printJSON(map[string]any{
				"suggestions":      suggestions,
				"provider":         gen.Provider(),
				"created_case_ids": created,
			})
		})
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateFlags.prompt, "prompt", "", "requirements, one per line")
	generateCmd.Flags().StringVar(&generateFlags.promptFile, "prompt-file", "", "read the prompt from a file")
	generateCmd.Flags().StringVar(&generateFlags.projectID, "project-id", "", "project for created cases")
	generateCmd.Flags().StringVar(&generateFlags.suiteID, "suite-id", "", "suite for created cases")
	generateCmd.Flags().BoolVar(&generateFlags.create, "create", false, "store the suggestions as cases")

	rootCmd.AddCommand(generateCmd)
}
