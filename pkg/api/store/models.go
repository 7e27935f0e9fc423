package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ID prefixes keep identifiers recognisable when copied around.
const (
	PrefixProject = "prj"
	PrefixSuite   = "sui"
	PrefixCase    = "case"
	PrefixRun     = "run"
	PrefixRunItem = "ritem"
)

// Case kinds.
const (
	KindHTTP = "http"
	KindDemo = "demo"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run states. queued -> running -> finished|failed.
const (
	RunQueued   RunStatus = "queued"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunFinished || s == RunFailed
}

// ItemStatus is the state of a run item. queued -> passed|failed.
type ItemStatus string

// Run item states.
const (
	ItemQueued ItemStatus = "queued"
	ItemPassed ItemStatus = "passed"
	ItemFailed ItemStatus = "failed"
)

// NewID returns "<prefix>_<32 hex chars>".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Project groups suites, cases and runs.
type Project struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns an identifier when none is set.
func (p *Project) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID(PrefixProject)
	}

	return nil
}

// Suite is a named grouping of cases within a project.
type Suite struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ProjectID string    `gorm:"not null;index;size:64" json:"project_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate assigns an identifier when none is set.
func (s *Suite) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = NewID(PrefixSuite)
	}

	return nil
}

// Case is a stored test definition.
type Case struct {
	ID          string                      `gorm:"primaryKey;size:64" json:"id"`
	ProjectID   string                      `gorm:"not null;index;size:64" json:"project_id"`
	SuiteID     *string                     `gorm:"index;size:64" json:"suite_id"`
	Title       string                      `gorm:"not null" json:"title"`
	Description string                      `gorm:"not null;default:''" json:"description"`
	Tags        datatypes.JSONSlice[string] `gorm:"column:tags_json" json:"tags"`
	Kind        string                      `gorm:"not null;default:http" json:"kind"`
	Spec        datatypes.JSON              `gorm:"column:spec_json" json:"spec"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// BeforeCreate assigns an identifier and normalises empty documents.
func (c *Case) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = NewID(PrefixCase)
	}

	if c.Tags == nil {
		c.Tags = datatypes.JSONSlice[string]{}
	}

	if len(c.Spec) == 0 {
		c.Spec = datatypes.JSON(`{}`)
	}

	return nil
}

// Run is an execution request over a set of cases.
type Run struct {
	ID         string         `gorm:"primaryKey;size:64" json:"id"`
	ProjectID  string         `gorm:"not null;index;size:64" json:"project_id"`
	SuiteID    *string        `gorm:"index;size:64" json:"suite_id"`
	Name       string         `gorm:"not null" json:"name"`
	Status     RunStatus      `gorm:"not null;index;size:16" json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Summary    datatypes.JSON `gorm:"column:summary_json" json:"summary"`
}

// BeforeCreate assigns an identifier and the initial state.
func (r *Run) BeforeCreate(_ *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID(PrefixRun)
	}

	if r.Status == "" {
		r.Status = RunQueued
	}

	if len(r.Summary) == 0 {
		r.Summary = datatypes.JSON(`{}`)
	}

	return nil
}

// RunItem is one case's execution slot within a run. The case is
// referenced by id and looked up when the item executes.
type RunItem struct {
	ID         string         `gorm:"primaryKey;size:64" json:"id"`
	RunID      string         `gorm:"not null;index;size:64" json:"run_id"`
	CaseID     string         `gorm:"not null;index;size:64" json:"case_id"`
	Seq        int            `gorm:"not null" json:"seq"`
	Status     ItemStatus     `gorm:"not null;size:16" json:"status"`
	DurationMS int64          `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
	Log        string         `gorm:"type:text;not null;default:''" json:"log"`
	Data       datatypes.JSON `gorm:"column:data_json" json:"data"`
}

// BeforeCreate assigns an identifier and the initial state.
func (i *RunItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID(PrefixRunItem)
	}

	if i.Status == "" {
		i.Status = ItemQueued
	}

	if len(i.Data) == 0 {
		i.Data = datatypes.JSON(`{}`)
	}

	return nil
}
