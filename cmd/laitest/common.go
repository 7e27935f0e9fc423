package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/sirupsen/logrus"
)

const (
	outputJSON  = "json"
	outputTable = "table"
)

// loadConfig reads the --config files, or defaults plus environment when
// none are given, and applies the configured log level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if logLevel == "" {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid global.log_level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// withStore opens the configured database for the duration of fn.
func withStore(
	ctx context.Context,
	fn func(ctx context.Context, cfg *config.Config, st store.Store) error,
) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	return fn(ctx, cfg, st)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}

	return nil
}

func wantTable() (bool, error) {
	switch outputFormat {
	case outputJSON:
		return false, nil
	case outputTable:
		return true, nil
	default:
		return false, fmt.Errorf("unsupported output format %q", outputFormat)
	}
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}

	return &id
}
