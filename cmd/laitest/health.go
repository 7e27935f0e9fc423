package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/sysinfo"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database health without a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st store.Store) error {
			if err := st.Ping(ctx); err != nil {
				return fmt.Errorf("database unavailable: %w", err)
			}

			out := map[string]any{
				"ok": true,
				"ts": time.Now().UTC().Format(time.RFC3339Nano),
			}

			host, err := sysinfo.Collect(ctx)
			if err != nil {
				log.WithError(err).Warn("Failed to collect host info")
			} else {
				out["host"] = host
			}

			return printJSON(out)
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
