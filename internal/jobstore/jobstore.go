// Package jobstore provides durable, resumable job records for generation
// runs: one JobRecord per graph node and one ParentJob per production run,
// with parent counters recomputed from children.
package jobstore

import (
	"context"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord is the persisted execution record for one graph node.
type JobRecord struct {
	JobID        string         `json:"job_id"`
	ParentJobID  string         `json:"parent_job_id,omitempty"`
	ProductionID string         `json:"production_id"`
	EntityID     string         `json:"entity_id"` // graph node id, stable across runs
	Type         string         `json:"type"`      // image, video, episode
	Status       Status         `json:"status"`
	Prompt       string         `json:"prompt,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"` // graph node ids
	ResultPath   string         `json:"result_path,omitempty"`
	ResultURL    string         `json:"result_url,omitempty"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Counts tallies child statuses for a parent job.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
}

// Add counts one child status.
func (c *Counts) Add(s Status) {
	c.Total++
	switch s {
	case StatusCompleted:
		c.Completed++
	case StatusFailed:
		c.Failed++
	case StatusRunning:
		c.Running++
	default:
		c.Pending++
	}
}

// Derive computes the aggregate status from the counts:
// completed iff all children completed; failed iff every child is terminal and
// at least one failed; running iff any child is running; else pending.
func (c Counts) Derive() Status {
	switch {
	case c.Total > 0 && c.Completed == c.Total:
		return StatusCompleted
	case c.Failed > 0 && c.Completed+c.Failed == c.Total:
		return StatusFailed
	case c.Running > 0:
		return StatusRunning
	default:
		return StatusPending
	}
}

// ParentJob is the umbrella record aggregating all of a run's child jobs.
// Status and counters are always derived from children, never set directly.
type ParentJob struct {
	JobID        string         `json:"job_id"`
	ProductionID string         `json:"production_id"`
	Title        string         `json:"title,omitempty"`
	Status       Status         `json:"status"`
	ChildJobIDs  []string       `json:"child_job_ids,omitempty"`
	Counts       Counts         `json:"counts"`
	SummaryURL   string         `json:"summary_url,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Patch is a partial job update. Nil fields are left unchanged.
type Patch struct {
	Status      *Status
	ParentJobID *string
	ResultPath  *string
	ResultURL   *string
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Filter narrows ListJobs results. Empty fields match everything.
type Filter struct {
	ProductionID string
	Status       Status
}

// Store is the durable job store contract. Implementations must provide
// get-after-put read consistency per job id; RecomputeParentStats must be a
// full re-read of children and safe to call concurrently.
type Store interface {
	CreateParentJob(ctx context.Context, productionID, title string, meta map[string]any) (*ParentJob, error)
	GetParentJob(ctx context.Context, jobID string) (*ParentJob, error)
	SetParentChildren(ctx context.Context, jobID string, childJobIDs []string) error
	SetParentSummary(ctx context.Context, jobID, summaryURL string) error
	RecomputeParentStats(ctx context.Context, jobID string) (*ParentJob, error)

	// GetOrCreateJob returns the existing job for (production, entity) or
	// persists proto as a new pending record. Idempotent per entity id; this
	// is what makes runs resumable.
	GetOrCreateJob(ctx context.Context, proto JobRecord) (rec *JobRecord, created bool, err error)
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	UpdateJob(ctx context.Context, jobID string, patch Patch) (*JobRecord, error)
	ListJobs(ctx context.Context, filter Filter) ([]*JobRecord, error)

	// DeleteProductionJobs removes every job record (and parent job) for a
	// production. Called on explicit production deletion and at the start of a
	// fresh (non-resume) run.
	DeleteProductionJobs(ctx context.Context, productionID string) (int, error)
}

// ParentPatchFromChildren recomputes parent aggregates from a child snapshot
// and stamps startedAt/completedAt on first transition. Shared by store
// implementations so the derivation logic cannot drift between backends.
func ParentPatchFromChildren(parent *ParentJob, children []*JobRecord, now time.Time) {
	var counts Counts
	for _, child := range children {
		counts.Add(child.Status)
	}
	parent.Counts = counts
	parent.Status = counts.Derive()

	if parent.StartedAt == nil && parent.Status != StatusPending {
		t := now
		parent.StartedAt = &t
	}
	if parent.CompletedAt == nil && parent.Status.Terminal() {
		t := now
		parent.CompletedAt = &t
	}
}
