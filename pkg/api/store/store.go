package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethpandaops/laitest/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CaseFilter narrows ListCases. Empty fields match everything.
type CaseFilter struct {
	ProjectID string
	SuiteID   string
}

// RunFilter narrows ListRuns. Empty fields match everything.
type RunFilter struct {
	ProjectID string
	SuiteID   string
}

// ItemOutcome is the terminal result written to a run item. A nil Data
// leaves the stored trace untouched.
type ItemOutcome struct {
	Status     ItemStatus
	DurationMS int64
	Log        string
	Data       datatypes.JSON
}

// Store provides persistence for projects, suites, cases and runs. Every
// write commits immediately; no transaction spans more than one call.
type Store interface {
	Start(ctx context.Context) error
	Stop() error
	Ping(ctx context.Context) error

	// Project CRUD.
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	DeleteProject(ctx context.Context, id string) error

	// Suite CRUD.
	CreateSuite(ctx context.Context, s *Suite) error
	ListSuites(ctx context.Context, projectID string) ([]Suite, error)
	DeleteSuite(ctx context.Context, id string) error

	// Case CRUD.
	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id string) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]Case, error)
	UpdateCase(ctx context.Context, c *Case) error
	DeleteCase(ctx context.Context, id string) error

	// Runs.
	CreateRun(ctx context.Context, run *Run, caseIDs []string) ([]RunItem, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	ListRunItems(ctx context.Context, runID string) ([]RunItem, error)
	ListQueuedRunIDs(ctx context.Context) ([]string, error)

	// Run lifecycle writes.
	MarkRunRunning(ctx context.Context, id string, t time.Time) error
	UpdateRunItem(ctx context.Context, id string, outcome ItemOutcome) error
	FinishRun(ctx context.Context, id string, summary datatypes.JSON, t time.Time) error
	FailRun(ctx context.Context, id string, t time.Time) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		path := s.cfg.SQLite.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}
		}

		dialector = sqlite.Open(path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; serialising connections avoids
	// "database is locked" between the API and the run worker.
	if s.cfg.Driver == "sqlite" {
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Project{},
		&Suite{},
		&Case{},
		&Run{},
		&RunItem{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Ping checks database connectivity.
func (s *store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	return nil
}

// notFound maps gorm's record-not-found onto ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}

	return fmt.Errorf("getting %s %s: %w", what, id, err)
}

// --- Project CRUD ---

func (s *store) CreateProject(ctx context.Context, p *Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	return nil
}

func (s *store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, notFound(err, "project", id)
	}

	return &p, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}

// DeleteProject removes a project together with its suites, cases, runs
// and run items.
func (s *store) DeleteProject(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var runIDs []string
		if err := tx.Model(&Run{}).
			Where("project_id = ?", id).
			Pluck("id", &runIDs).Error; err != nil {
			return fmt.Errorf("listing project runs: %w", err)
		}

		if len(runIDs) > 0 {
			if err := tx.Where("run_id IN ?", runIDs).
				Delete(&RunItem{}).Error; err != nil {
				return fmt.Errorf("deleting run items: %w", err)
			}
		}

		for _, model := range []any{&Run{}, &Case{}, &Suite{}} {
			if err := tx.Where("project_id = ?", id).
				Delete(model).Error; err != nil {
				return fmt.Errorf("deleting project children: %w", err)
			}
		}

		return tx.Where("id = ?", id).Delete(&Project{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}

	return nil
}

// --- Suite CRUD ---

func (s *store) CreateSuite(ctx context.Context, suite *Suite) error {
	if err := s.db.WithContext(ctx).Create(suite).Error; err != nil {
		return fmt.Errorf("creating suite: %w", err)
	}

	return nil
}

func (s *store) ListSuites(
	ctx context.Context, projectID string,
) ([]Suite, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if projectID != "" {
		q = q.Where("project_id = ?", projectID)
	}

	var suites []Suite
	if err := q.Find(&suites).Error; err != nil {
		return nil, fmt.Errorf("listing suites: %w", err)
	}

	return suites, nil
}

// DeleteSuite removes a suite and detaches the cases and runs that
// referenced it.
func (s *store) DeleteSuite(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Case{}).
			Where("suite_id = ?", id).
			Update("suite_id", nil).Error; err != nil {
			return fmt.Errorf("detaching cases: %w", err)
		}

		if err := tx.Model(&Run{}).
			Where("suite_id = ?", id).
			Update("suite_id", nil).Error; err != nil {
			return fmt.Errorf("detaching runs: %w", err)
		}

		return tx.Where("id = ?", id).Delete(&Suite{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting suite: %w", err)
	}

	return nil
}

// --- Case CRUD ---

func (s *store) CreateCase(ctx context.Context, c *Case) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("creating case: %w", err)
	}

	return nil
}

func (s *store) GetCase(ctx context.Context, id string) (*Case, error) {
	var c Case
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, notFound(err, "case", id)
	}

	return &c, nil
}

func (s *store) ListCases(
	ctx context.Context, filter CaseFilter,
) ([]Case, error) {
	q := s.db.WithContext(ctx).Order("updated_at DESC")
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}

	if filter.SuiteID != "" {
		q = q.Where("suite_id = ?", filter.SuiteID)
	}

	var cases []Case
	if err := q.Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}

	return cases, nil
}

func (s *store) UpdateCase(ctx context.Context, c *Case) error {
	result := s.db.WithContext(ctx).
		Model(&Case{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"suite_id":    c.SuiteID,
			"title":       c.Title,
			"description": c.Description,
			"tags_json":   c.Tags,
			"kind":        c.Kind,
			"spec_json":   c.Spec,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating case: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("case %s: %w", c.ID, ErrNotFound)
	}

	return nil
}

// DeleteCase removes a case and the finished run items referencing it.
// Queued items are kept so the run reports them as failed rather than
// silently shrinking.
func (s *store) DeleteCase(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("case_id = ? AND status <> ?", id, ItemQueued).
			Delete(&RunItem{}).Error; err != nil {
			return fmt.Errorf("deleting run items: %w", err)
		}

		return tx.Where("id = ?", id).Delete(&Case{}).Error
	})
	if err != nil {
		return fmt.Errorf("deleting case: %w", err)
	}

	return nil
}

// --- Runs ---

// CreateRun inserts a queued run and one queued item per case id, in
// order, within a single transaction.
func (s *store) CreateRun(
	ctx context.Context, run *Run, caseIDs []string,
) ([]RunItem, error) {
	run.Status = RunQueued
	run.StartedAt = nil
	run.FinishedAt = nil

	items := make([]RunItem, 0, len(caseIDs))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("inserting run: %w", err)
		}

		for i, caseID := range caseIDs {
			items = append(items, RunItem{
				RunID:  run.ID,
				CaseID: caseID,
				Seq:    i,
				Status: ItemQueued,
			})
		}

		if len(items) == 0 {
			return nil
		}

		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("inserting run items: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}

	return items, nil
}

func (s *store) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		return nil, notFound(err, "run", id)
	}

	return &run, nil
}

func (s *store) ListRuns(
	ctx context.Context, filter RunFilter,
) ([]Run, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.ProjectID != "" {
		q = q.Where("project_id = ?", filter.ProjectID)
	}

	if filter.SuiteID != "" {
		q = q.Where("suite_id = ?", filter.SuiteID)
	}

	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// ListRunItems returns a run's items in insertion order.
func (s *store) ListRunItems(
	ctx context.Context, runID string,
) ([]RunItem, error) {
	var items []RunItem
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("seq ASC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("listing run items: %w", err)
	}

	return items, nil
}

// ListQueuedRunIDs returns runs that have not been picked up yet, oldest
// first.
func (s *store) ListQueuedRunIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("status = ?", RunQueued).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing queued runs: %w", err)
	}

	return ids, nil
}

// --- Run lifecycle writes ---

func (s *store) MarkRunRunning(
	ctx context.Context, id string, t time.Time,
) error {
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     RunRunning,
			"started_at": t,
		})
	if result.Error != nil {
		return fmt.Errorf("marking run running: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

func (s *store) UpdateRunItem(
	ctx context.Context, id string, outcome ItemOutcome,
) error {
	updates := map[string]any{
		"status":      outcome.Status,
		"duration_ms": outcome.DurationMS,
		"log":         outcome.Log,
	}

	if outcome.Data != nil {
		updates["data_json"] = outcome.Data
	}

	result := s.db.WithContext(ctx).
		Model(&RunItem{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating run item: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("run item %s: %w", id, ErrNotFound)
	}

	return nil
}

func (s *store) FinishRun(
	ctx context.Context, id string, summary datatypes.JSON, t time.Time,
) error {
	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       RunFinished,
			"finished_at":  t,
			"summary_json": summary,
		})
	if result.Error != nil {
		return fmt.Errorf("finishing run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

func (s *store) FailRun(ctx context.Context, id string, t time.Time) error {
	if err := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      RunFailed,
			"finished_at": t,
		}).Error; err != nil {
		return fmt.Errorf("failing run: %w", err)
	}

	return nil
}
