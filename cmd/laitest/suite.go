package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/spf13/cobra"
)

var suiteProjectID string

var suiteCmd = &cobra.Command{
	Use:   "suite",
	Short: "Manage suites",
}

var suiteCreateCmd = &cobra.Command{
	Use:   "create <project-id> <name>",
	Short: "Create a suite in a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := strings.TrimSpace(args[0])
		name := strings.TrimSpace(args[1])

		if projectID == "" || name == "" {
			return fmt.Errorf("missing project_id or name")
		}

		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			s := &store.Suite{ProjectID: projectID, Name: name}
			if err := st.CreateSuite(ctx, s); err != nil {
				return err
			}

			return printJSON(map[string]any{"suite": s})
		})
	},
}

var suiteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List suites, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			suites, err := st.ListSuites(ctx, suiteProjectID)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{"suites": suites})
		})
	},
}

var suiteDeleteCmd = &cobra.Command{
	Use:   "delete <suite-id>",
	Short: "Delete a suite; its cases and runs are kept without a suite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			if err := st.DeleteSuite(ctx, args[0]); err != nil {
				return err
			}

			return printJSON(map[string]any{"ok": true})
		})
	},
}

func init() {
	suiteListCmd.Flags().StringVar(&suiteProjectID, "project-id", "", "only list suites of this project")

	suiteCmd.AddCommand(suiteCreateCmd, suiteListCmd, suiteDeleteCmd)
	rootCmd.AddCommand(suiteCmd)
}
