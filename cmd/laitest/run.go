package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/executor"
	"github.com/ethpandaops/laitest/pkg/report"
	"github.com/ethpandaops/laitest/pkg/runner"
	"github.com/ethpandaops/laitest/pkg/sysinfo"
	"github.com/ethpandaops/laitest/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// reportConcurrency bounds how many reports render at once.
const reportConcurrency = 4

var runFlags struct {
	projectID string
	suiteID   string
	name      string
	caseIDs   []string
	outDir    string
	upload    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create, inspect and report on runs",
}

var runCreateCmd = &cobra.Command{
	Use:   "create <project-id>",
	Short: "Create a run and execute it in this process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID := strings.TrimSpace(args[0])
		if projectID == "" {
			return fmt.Errorf("missing project_id")
		}

		caseIDs := make([]string, 0, len(runFlags.caseIDs))
		for _, id := range runFlags.caseIDs {
			if id = strings.TrimSpace(id); id != "" {
				caseIDs = append(caseIDs, id)
			}
		}

		if len(caseIDs) == 0 {
			return fmt.Errorf("missing case_ids")
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		return withStore(ctx, func(ctx context.Context, cfg *config.Config, st store.Store) error {
			runTimeout, err := cfg.Runner.ParseRunTimeout()
			if err != nil {
				return err
			}

			name := strings.TrimSpace(runFlags.name)
			if name == "" {
				name = "cli run"
			}

			run := &store.Run{
				ProjectID: projectID,
				SuiteID:   optionalID(strings.TrimSpace(runFlags.suiteID)),
				Name:      name,
			}

			if _, err := st.CreateRun(ctx, run, caseIDs); err != nil {
				return err
			}

			exec := runner.NewExecutor(log, &runner.ExecutorConfig{
				RunTimeout: runTimeout,
			}, st, executor.NewInterpreter(log, cfg.Runner.HTTP))

			if err := exec.Execute(ctx, run.ID); err != nil {
				// The run is already marked failed; still show what was stored.
				log.WithError(err).WithField("run_id", run.ID).Error("Run failed")
			}

			return showRun(ctx, st, run.ID)
		})
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := wantTable()
		if err != nil {
			return err
		}

		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			runs, err := st.ListRuns(ctx, store.RunFilter{
				ProjectID: runFlags.projectID,
				SuiteID:   runFlags.suiteID,
			})
			if err != nil {
				return err
			}

			if table {
				report.RunsTable(os.Stdout, runs)

				return nil
			}

			return printJSON(map[string]any{"runs": runs})
		})
	},
}

var runShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			return showRun(ctx, st, args[0])
		})
	},
}

var runReportCmd = &cobra.Command{
	Use:   "report <run-id>...",
	Short: "Write HTML reports for runs",
	Long: `Render an HTML report per run into --out-dir as <run-id>.html. With
--upload the reports are also stored in the configured S3 bucket.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st store.Store) error {
			var uploader upload.Uploader

			if runFlags.upload {
				s3cfg := cfg.Reports.Upload.S3
				if s3cfg == nil || !s3cfg.Enabled {
					return fmt.Errorf("S3 upload is not configured or not enabled in config")
				}

				u, err := upload.NewS3Uploader(log, s3cfg)
				if err != nil {
					return fmt.Errorf("creating S3 uploader: %w", err)
				}

				if err := u.Preflight(ctx); err != nil {
					return fmt.Errorf("S3 preflight: %w", err)
				}

				uploader = u
			}

			if err := os.MkdirAll(runFlags.outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			host, err := sysinfo.Collect(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to collect host info")
			}

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(reportConcurrency)

			for _, runID := range args {
				g.Go(func() error {
					return writeReport(gctx, st, uploader, host, runID)
				})
			}

			return g.Wait()
		})
	},
}

func writeReport(
	ctx context.Context,
	st store.Store,
	uploader upload.Uploader,
	host *sysinfo.Info,
	runID string,
) error {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	items, err := st.ListRunItems(ctx, runID)
	if err != nil {
		return err
	}

	page, err := report.HTML(run, items, host)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	path := filepath.Join(runFlags.outDir, runID+".html")
	if err := os.WriteFile(path, page, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	fields := logrus.Fields{"run_id": runID, "path": path}

	if uploader != nil {
		uri, err := uploader.UploadReport(ctx, runID, "report.html", page)
		if err != nil {
			return err
		}

		fields["uri"] = uri
	}

	log.WithFields(fields).Info("Report written")

	return nil
}

func showRun(ctx context.Context, st store.Store, runID string) error {
	table, err := wantTable()
	if err != nil {
		return err
	}

	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	items, err := st.ListRunItems(ctx, runID)
	if err != nil {
		return err
	}

	if table {
		report.RunTable(os.Stdout, run, items)

		return nil
	}

	return printJSON(map[string]any{"run": run, "items": items})
}

func init() {
	runCreateCmd.Flags().StringVar(&runFlags.suiteID, "suite-id", "", "suite the run belongs to")
	runCreateCmd.Flags().StringVar(&runFlags.name, "name", "cli run", "run name")
	runCreateCmd.Flags().StringArrayVar(&runFlags.caseIDs, "case-id", nil, "case to execute (repeatable, in order)")

	runListCmd.Flags().StringVar(&runFlags.projectID, "project-id", "", "only list runs of this project")
	runListCmd.Flags().StringVar(&runFlags.suiteID, "suite-id", "", "only list runs of this suite")

	runReportCmd.Flags().StringVar(&runFlags.outDir, "out-dir", ".", "directory for the HTML reports")
	runReportCmd.Flags().BoolVar(&runFlags.upload, "upload", false, "upload reports to reports.upload.s3")

	runCmd.AddCommand(runCreateCmd, runListCmd, runShowCmd, runReportCmd)
	rootCmd.AddCommand(runCmd)
}
