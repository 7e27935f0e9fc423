package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// ErrRunnerStopped is returned by Enqueue after Stop has been called.
var ErrRunnerStopped = errors.New("runner stopped")

// Runner executes queued runs one at a time on a single worker.
type Runner interface {
	// Start re-queues runs left in the queued state and starts the worker.
	Start(ctx context.Context) error

	// Stop refuses new work and waits for the in-flight run to finish.
	// Runs still pending stay queued in the store.
	Stop() error

	// Enqueue appends a run id to the queue without blocking.
	Enqueue(runID string) error

	// Pending returns the number of runs waiting for the worker.
	Pending() int
}

// NewRunner creates a new single-worker runner.
func NewRunner(
	log logrus.FieldLogger,
	st store.Store,
	exec Executor,
) Runner {
	return &runner{
		log:    log.WithField("component", "runner"),
		store:  st,
		exec:   exec,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

type runner struct {
	log   logrus.FieldLogger
	store store.Store
	exec  Executor

	mu      sync.Mutex
	queue   []string
	stopped bool

	signal chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// Ensure interface compliance.
var _ Runner = (*runner)(nil)

func (r *runner) Start(ctx context.Context) error {
	ids, err := r.store.ListQueuedRunIDs(ctx)
	if err != nil {
		return fmt.Errorf("loading queued runs: %w", err)
	}

	for _, id := range ids {
		if err := r.Enqueue(id); err != nil {
			return err
		}
	}

	if len(ids) > 0 {
		r.log.WithField("count", len(ids)).Info("Recovered queued runs")
	}

	// In-flight runs are not interrupted when the caller's context ends.
	workCtx := context.WithoutCancel(ctx)

	r.wg.Add(1)

	go r.loop(workCtx)

	r.log.Debug("Runner started")

	return nil
}

func (r *runner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()

		return nil
	}

	r.stopped = true
	r.mu.Unlock()

	close(r.done)
	r.wg.Wait()

	r.log.Debug("Runner stopped")

	return nil
}

func (r *runner) Enqueue(runID string) error {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()

		return ErrRunnerStopped
	}

	r.queue = append(r.queue, runID)
	depth := len(r.queue)
	r.mu.Unlock()

	metrics.SetQueueDepth(depth)

	select {
	case r.signal <- struct{}{}:
	default:
	}

	r.log.WithFields(logrus.Fields{
		"run_id": runID,
		"depth":  depth,
	}).Debug("Run enqueued")

	return nil
}

func (r *runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue)
}

func (r *runner) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		default:
		}

		runID, ok := r.next()
		if !ok {
			select {
			case <-r.done:
				return
			case <-r.signal:
			}

			continue
		}

		if err := r.exec.Execute(ctx, runID); err != nil {
			r.log.WithError(err).WithField("run_id", runID).Warn("Run did not finish")
		}
	}
}

func (r *runner) next() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return "", false
	}

	runID := r.queue[0]
	r.queue = r.queue[1:]

	metrics.SetQueueDepth(len(r.queue))

	return runID, true
}
