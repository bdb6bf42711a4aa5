package engine

import (
	"context"
	"fmt"

	"showrunner/internal/jobstore"
)

// RunStatus is the aggregate view of a run: the parent job's derived status
// plus the child records, newest first.
type RunStatus struct {
	ParentJobID  string                `json:"parent_job_id,omitempty"`
	ProductionID string                `json:"production_id"`
	Status       jobstore.Status       `json:"status"`
	Counts       jobstore.Counts       `json:"counts"`
	SummaryURL   string                `json:"summary_url,omitempty"`
	Jobs         []*jobstore.JobRecord `json:"jobs,omitempty"`
}

// statusFor builds the RunStatus for a known parent job.
func (e *Engine) statusFor(ctx context.Context, parentJobID string) (*RunStatus, error) {
	parent, err := e.store.GetParentJob(ctx, parentJobID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent job not found: %s", parentJobID)
	}

	jobs := make([]*jobstore.JobRecord, 0, len(parent.ChildJobIDs))
	for _, id := range parent.ChildJobIDs {
		rec, err := e.store.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			jobs = append(jobs, rec)
		}
	}

	return &RunStatus{
		ParentJobID:  parent.JobID,
		ProductionID: parent.ProductionID,
		Status:       parent.Status,
		Counts:       parent.Counts,
		SummaryURL:   parent.SummaryURL,
		Jobs:         jobs,
	}, nil
}

// ResumeStatus summarizes the persisted jobs of a production without running
// anything. Status and counts are always recomputed from the job records; the
// stored parent snapshot can lag behind them (an interrupted run never reaches
// its final recompute), so it only contributes the run id and summary link.
func (e *Engine) ResumeStatus(ctx context.Context, productionID string) (*RunStatus, error) {
	jobs, err := e.store.ListJobs(ctx, jobstore.Filter{ProductionID: productionID})
	if err != nil {
		return nil, err
	}

	var counts jobstore.Counts
	for _, rec := range jobs {
		counts.Add(rec.Status)
	}
	status := &RunStatus{
		ProductionID: productionID,
		Status:       counts.Derive(),
		Counts:       counts,
		Jobs:         jobs,
	}

	// Jobs are newest first; all of a run's jobs share a parent id.
	if len(jobs) > 0 && jobs[0].ParentJobID != "" {
		parent, err := e.store.GetParentJob(ctx, jobs[0].ParentJobID)
		if err == nil && parent != nil {
			status.ParentJobID = parent.JobID
			status.SummaryURL = parent.SummaryURL
		}
	}
	return status, nil
}
