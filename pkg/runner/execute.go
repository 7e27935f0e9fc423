package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/laitest/pkg/analysis"
	"github.com/ethpandaops/laitest/pkg/api/store"
	"github.com/ethpandaops/laitest/pkg/executor"
	"github.com/ethpandaops/laitest/pkg/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// CaseNotFoundLog is the log stored on an item whose case was deleted
// before it executed.
const CaseNotFoundLog = "case not found"

var (
	// ErrRunNotFound is returned when the run row does not exist. Nothing
	// is written in that case.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFailed wraps any error that forced a run into the failed state.
	ErrRunFailed = errors.New("run failed")
)

// CaseRunner executes a stored case spec.
type CaseRunner interface {
	RunCaseJSON(ctx context.Context, kind string, spec []byte) executor.Result
}

// Executor drives one run from queued to a terminal status.
type Executor interface {
	// Execute processes every queued item of the run in order, persisting
	// each outcome before moving on, then writes the summary. Any error
	// during bookkeeping marks the run failed and is returned wrapped in
	// ErrRunFailed. Runs that are already terminal are left untouched.
	Execute(ctx context.Context, runID string) error
}

// ExecutorConfig configures run execution.
type ExecutorConfig struct {
	// RunTimeout bounds the time spent inside case execution for one run.
	// Zero disables the limit.
	RunTimeout time.Duration
}

// NewExecutor creates a new run executor.
func NewExecutor(
	log logrus.FieldLogger,
	cfg *ExecutorConfig,
	st store.Store,
	cases CaseRunner,
) Executor {
	if cfg == nil {
		cfg = &ExecutorConfig{}
	}

	return &runExecutor{
		log:   log.WithField("component", "executor"),
		cfg:   cfg,
		store: st,
		cases: cases,
	}
}

type runExecutor struct {
	log   logrus.FieldLogger
	cfg   *ExecutorConfig
	store store.Store
	cases CaseRunner
}

// Ensure interface compliance.
var _ Executor = (*runExecutor)(nil)

func (e *runExecutor) Execute(ctx context.Context, runID string) (err error) {
	log := e.log.WithField("run_id", runID)

	run, err := e.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Run vanished before execution, skipping")

		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}

		if err == nil {
			return
		}

		log.WithError(err).Error("Run failed")

		// Bookkeeping must land even when the caller's context is done.
		if failErr := e.store.FailRun(
			context.WithoutCancel(ctx), runID, time.Now().UTC(),
		); failErr != nil {
			log.WithError(failErr).Error("Failed to mark run as failed")
		}

		metrics.RecordRun(string(store.RunFailed), time.Since(started))

		err = fmt.Errorf("%w: %s: %w", ErrRunFailed, runID, err)
	}()

	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}

	if run.Status.Terminal() {
		log.WithField("status", run.Status).Debug("Run already terminal, skipping")

		return nil
	}

	if err := e.execute(ctx, log, run); err != nil {
		return err
	}

	metrics.RecordRun(string(store.RunFinished), time.Since(started))

	return nil
}

func (e *runExecutor) execute(
	ctx context.Context,
	log logrus.FieldLogger,
	run *store.Run,
) error {
	if err := e.store.MarkRunRunning(ctx, run.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("marking run running: %w", err)
	}

	items, err := e.store.ListRunItems(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("loading run items: %w", err)
	}

	log.WithField("items", len(items)).Info("Run started")

	caseCtx := ctx

	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc

		caseCtx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	for i := range items {
		item := &items[i]

		// Items are never re-executed.
		if item.Status != store.ItemQueued {
			continue
		}

		if err := e.executeItem(ctx, caseCtx, log, item); err != nil {
			return err
		}
	}

	items, err = e.store.ListRunItems(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("reloading run items: %w", err)
	}

	summary := analysis.Build(toAnalysisItems(items))

	raw, err := summary.Marshal()
	if err != nil {
		return err
	}

	if err := e.store.FinishRun(ctx, run.ID, datatypes.JSON(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	log.WithFields(logrus.Fields{
		"total":  summary.Total,
		"passed": summary.Passed,
		"failed": summary.Failed,
	}).Info("Run finished")

	return nil
}

// executeItem runs one item and persists its outcome. Store writes use
// ctx; only case execution is bound by caseCtx.
func (e *runExecutor) executeItem(
	ctx, caseCtx context.Context,
	log logrus.FieldLogger,
	item *store.RunItem,
) error {
	c, err := e.store.GetCase(ctx, item.CaseID)
	if errors.Is(err, store.ErrNotFound) {
		log.WithField("case_id", item.CaseID).Warn("Case not found for run item")

		if err := e.store.UpdateRunItem(ctx, item.ID, store.ItemOutcome{
			Status: store.ItemFailed,
			Log:    CaseNotFoundLog,
		}); err != nil {
			return fmt.Errorf("updating run item: %w", err)
		}

		metrics.RecordRunItem(string(store.ItemFailed), 0)

		return nil
	}

	if err != nil {
		return fmt.Errorf("loading case %s: %w", item.CaseID, err)
	}

	res := e.cases.RunCaseJSON(caseCtx, c.Kind, c.Spec)

	data, err := json.Marshal(res.Trace)
	if err != nil {
		return fmt.Errorf("encoding trace: %w", err)
	}

	status := store.ItemFailed
	if res.OK {
		status = store.ItemPassed
	}

	if err := e.store.UpdateRunItem(ctx, item.ID, store.ItemOutcome{
		Status:     status,
		DurationMS: res.DurationMS,
		Log:        res.Message,
		Data:       datatypes.JSON(data),
	}); err != nil {
		return fmt.Errorf("updating run item: %w", err)
	}

	metrics.RecordRunItem(string(status), time.Duration(res.DurationMS)*time.Millisecond)

	log.WithFields(logrus.Fields{
		"case_id":     item.CaseID,
		"status":      status,
		"duration_ms": res.DurationMS,
	}).Debug("Run item executed")

	return nil
}

func toAnalysisItems(items []store.RunItem) []analysis.Item {
	out := make([]analysis.Item, 0, len(items))
	for _, it := range items {
		out = append(out, analysis.Item{
			CaseID: it.CaseID,
			Status: string(it.Status),
			Log:    it.Log,
		})
	}

	return out
}
