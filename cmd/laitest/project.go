package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		if name == "" {
			return fmt.Errorf("missing name")
		}

		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			p := &store.Project{Name: name}
			if err := st.CreateProject(ctx, p); err != nil {
				return err
			}

			return printJSON(map[string]any{"project": p})
		})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			projects, err := st.ListProjects(ctx)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{"projects": projects})
		})
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <project-id>",
	Short: "Delete a project with its suites, cases and runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			if err := st.DeleteProject(ctx, args[0]); err != nil {
				return err
			}

			return printJSON(map[string]any{"ok": true})
		})
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectListCmd, projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}
