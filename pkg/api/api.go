package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/ethpandaops/laitest/pkg/executor"
	"github.com/ethpandaops/laitest/pkg/generator"
	"github.com/ethpandaops/laitest/pkg/runner"
	"github.com/ethpandaops/laitest/pkg/speclint"
	"github.com/ethpandaops/laitest/pkg/sysinfo"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.Config
	store      store.Store
	runner     runner.Runner
	linter     *speclint.Linter
	generator  generator.Generator
	host       *sysinfo.Info
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
	}
}

// Start binds the listener, opens the store, starts the run worker and
// begins serving HTTP. Nothing is left running when it returns an error.
func (s *server) Start(ctx context.Context) error {
	// Bind first so a port conflict fails before queued runs are picked up.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err)
	}

	if err := s.setup(ctx); err != nil {
		_ = ln.Close()

		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// setup wires every dependency of the router. The runner is started
// after the store so queued runs from a previous process are recovered.
func (s *server) setup(ctx context.Context) error {
	runTimeout, err := s.cfg.Runner.ParseRunTimeout()
	if err != nil {
		return err
	}

	linter, err := speclint.New()
	if err != nil {
		return fmt.Errorf("creating spec linter: %w", err)
	}

	s.linter = linter
	s.generator = generator.NewLocal(s.cfg.Generator.MaxSuggestions)

	st := store.NewStore(s.log, &s.cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	s.store = st

	interp := executor.NewInterpreter(s.log, s.cfg.Runner.HTTP)
	exec := runner.NewExecutor(s.log, &runner.ExecutorConfig{
		RunTimeout: runTimeout,
	}, st, interp)

	rn := runner.NewRunner(s.log, st, exec)
	if err := rn.Start(ctx); err != nil {
		if stopErr := st.Stop(); stopErr != nil {
			s.log.WithError(stopErr).Warn("Store stop error")
		}

		s.store = nil

		return fmt.Errorf("starting runner: %w", err)
	}

	s.runner = rn

	host, err := sysinfo.Collect(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to collect host info")
	}

	s.host = host

	return nil
}

// Stop shuts down the HTTP server, waits for the in-flight run and
// closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.runner != nil {
		if err := s.runner.Stop(); err != nil {
			s.log.WithError(err).Warn("Runner stop error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
