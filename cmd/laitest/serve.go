package main

import (
	"fmt"

	"github.com/ethpandaops/laitest/pkg/api"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long: `Start the HTTP API and the background run worker. Runs left queued
by a previous process are picked up again on start.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"listen address, overrides api.server.listen")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if serveListen != "" {
		cfg.API.Server.Listen = serveListen
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	srv := api.NewServer(log, cfg)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
