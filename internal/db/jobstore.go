package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"

	"showrunner/internal/jobstore"
)

// SurrealStore is the database-backed jobstore.Store. Unlike the file store it
// supports multiple processes sharing one job history: idempotent job creation
// is enforced by the unique (production_id, entity_id) index rather than an
// in-process mutex.
type SurrealStore struct {
	client *Client
}

// NewSurrealStore wraps a connected client. The schema must be applied first.
func NewSurrealStore(client *Client) *SurrealStore {
	return &SurrealStore{client: client}
}

// CreateParentJob creates the umbrella record for a production run.
func (s *SurrealStore) CreateParentJob(ctx context.Context, productionID, title string, meta map[string]any) (*jobstore.ParentJob, error) {
	parent := jobstore.ParentJob{
		JobID:        fmt.Sprintf("run_%s_%s", shortID(productionID), uuid.New().String()[:5]),
		ProductionID: productionID,
		Title:        title,
		Status:       jobstore.StatusPending,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := surrealdb.Query[any](ctx, s.client.db, `
		CREATE type::record("parent_job", $id) CONTENT $rec
	`, map[string]any{"id": parent.JobID, "rec": parent})
	if err != nil {
		return nil, fmt.Errorf("create parent job: %w", wrapQueryError(err))
	}
	return &parent, nil
}

// GetParentJob returns the parent job or nil if absent.
func (s *SurrealStore) GetParentJob(ctx context.Context, jobID string) (*jobstore.ParentJob, error) {
	results, err := surrealdb.Query[[]jobstore.ParentJob](ctx, s.client.db, `
		SELECT * FROM type::record("parent_job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get parent job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// SetParentChildren records the run's child job ids on the parent.
func (s *SurrealStore) SetParentChildren(ctx context.Context, jobID string, childJobIDs []string) error {
	_, err := surrealdb.Query[any](ctx, s.client.db, `
		UPDATE type::record("parent_job", $id) SET
			child_job_ids = $children,
			counts = { total: $total, completed: 0, failed: 0, running: 0, pending: $total }
	`, map[string]any{"id": jobID, "children": childJobIDs, "total": len(childJobIDs)})
	if err != nil {
		return fmt.Errorf("set parent children: %w", wrapQueryError(err))
	}
	return nil
}

// SetParentSummary records the uploaded run summary's public URL.
func (s *SurrealStore) SetParentSummary(ctx context.Context, jobID, summaryURL string) error {
	_, err := surrealdb.Query[any](ctx, s.client.db, `
		UPDATE type::record("parent_job", $id) SET summary_url = $url
	`, map[string]any{"id": jobID, "url": summaryURL})
	if err != nil {
		return fmt.Errorf("set parent summary: %w", wrapQueryError(err))
	}
	return nil
}

// RecomputeParentStats reloads every child, recounts statuses and derives the
// parent status. Always a full re-read so concurrent workers converge.
func (s *SurrealStore) RecomputeParentStats(ctx context.Context, jobID string) (*jobstore.ParentJob, error) {
	parent, err := s.GetParentJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent job %s: %w", jobID, ErrNotFound)
	}

	results, err := surrealdb.Query[[]jobstore.JobRecord](ctx, s.client.db, `
		SELECT * FROM job WHERE job_id IN $ids
	`, map[string]any{"ids": parent.ChildJobIDs})
	if err != nil {
		return nil, fmt.Errorf("load children: %w", wrapQueryError(err))
	}
	var children []*jobstore.JobRecord
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			children = append(children, &(*results)[0].Result[i])
		}
	}

	jobstore.ParentPatchFromChildren(parent, children, time.Now().UTC())
	_, err = surrealdb.Query[any](ctx, s.client.db, `
		UPDATE type::record("parent_job", $id) CONTENT $rec
	`, map[string]any{"id": jobID, "rec": parent})
	if err != nil {
		return nil, fmt.Errorf("update parent stats: %w", wrapQueryError(err))
	}
	return parent, nil
}

// GetOrCreateJob returns the existing job for (production, entity) or creates
// a pending record from proto. A create racing another process loses to the
// unique index and falls back to reading the winner's record.
func (s *SurrealStore) GetOrCreateJob(ctx context.Context, proto jobstore.JobRecord) (*jobstore.JobRecord, bool, error) {
	existing, err := s.findJob(ctx, proto.ProductionID, proto.EntityID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	rec := proto
	rec.JobID = fmt.Sprintf("job_%s_%s", shortID(proto.EntityID), uuid.New().String()[:5])
	rec.Status = jobstore.StatusPending
	rec.CreatedAt = time.Now().UTC()

	_, err = surrealdb.Query[any](ctx, s.client.db, `
		CREATE type::record("job", $id) CONTENT $rec
	`, map[string]any{"id": rec.JobID, "rec": rec})
	if err != nil {
		if errors.Is(wrapQueryError(err), ErrJobAlreadyExists) {
			winner, ferr := s.findJob(ctx, proto.ProductionID, proto.EntityID)
			if ferr != nil || winner == nil {
				return nil, false, fmt.Errorf("reread job after create race: %w", ferr)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return &rec, true, nil
}

func (s *SurrealStore) findJob(ctx context.Context, productionID, entityID string) (*jobstore.JobRecord, error) {
	results, err := surrealdb.Query[[]jobstore.JobRecord](ctx, s.client.db, `
		SELECT * FROM job WHERE production_id = $production AND entity_id = $entity LIMIT 1
	`, map[string]any{"production": productionID, "entity": entityID})
	if err != nil {
		return nil, fmt.Errorf("find job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// GetJob returns the job record or nil if absent.
func (s *SurrealStore) GetJob(ctx context.Context, jobID string) (*jobstore.JobRecord, error) {
	results, err := surrealdb.Query[[]jobstore.JobRecord](ctx, s.client.db, `
		SELECT * FROM type::record("job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// UpdateJob applies a partial update. A completed job is immutable: a status
// downgrade from an abandoned run is dropped with a warning.
func (s *SurrealStore) UpdateJob(ctx context.Context, jobID string, patch jobstore.Patch) (*jobstore.JobRecord, error) {
	rec, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if rec.Status == jobstore.StatusCompleted && patch.Status != nil && *patch.Status != jobstore.StatusCompleted {
		slog.Warn("ignoring status update for completed job", "job_id", jobID, "status", *patch.Status)
		return rec, nil
	}

	if patch.Status != nil {
		rec.Status = *patch.Status
	}
	if patch.ParentJobID != nil {
		rec.ParentJobID = *patch.ParentJobID
	}
	if patch.ResultPath != nil {
		rec.ResultPath = *patch.ResultPath
	}
	if patch.ResultURL != nil {
		rec.ResultURL = *patch.ResultURL
	}
	if patch.Error != nil {
		rec.Error = *patch.Error
	}
	if patch.StartedAt != nil {
		rec.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		rec.CompletedAt = patch.CompletedAt
	}

	_, err = surrealdb.Query[any](ctx, s.client.db, `
		UPDATE type::record("job", $id) CONTENT $rec
	`, map[string]any{"id": jobID, "rec": rec})
	if err != nil {
		return nil, fmt.Errorf("update job: %w", wrapQueryError(err))
	}
	return rec, nil
}

// ListJobs returns matching jobs, newest first.
func (s *SurrealStore) ListJobs(ctx context.Context, filter jobstore.Filter) ([]*jobstore.JobRecord, error) {
	sql := "SELECT * FROM job"
	vars := map[string]any{}
	switch {
	case filter.ProductionID != "" && filter.Status != "":
		sql += " WHERE production_id = $production AND status = $status"
		vars["production"] = filter.ProductionID
		vars["status"] = string(filter.Status)
	case filter.ProductionID != "":
		sql += " WHERE production_id = $production"
		vars["production"] = filter.ProductionID
	case filter.Status != "":
		sql += " WHERE status = $status"
		vars["status"] = string(filter.Status)
	}
	sql += " ORDER BY created_at DESC"

	results, err := surrealdb.Query[[]jobstore.JobRecord](ctx, s.client.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	var jobs []*jobstore.JobRecord
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

// DeleteProductionJobs removes all job records and parent jobs for a production.
func (s *SurrealStore) DeleteProductionJobs(ctx context.Context, productionID string) (int, error) {
	counts, err := surrealdb.Query[[]struct {
		Count int `json:"count"`
	}](ctx, s.client.db, `
		SELECT count() AS count FROM job WHERE production_id = $production GROUP ALL;
		SELECT count() AS count FROM parent_job WHERE production_id = $production GROUP ALL;
	`, map[string]any{"production": productionID})
	if err != nil {
		return 0, fmt.Errorf("count production jobs: %w", wrapQueryError(err))
	}
	total := 0
	if counts != nil {
		for _, res := range *counts {
			for _, row := range res.Result {
				total += row.Count
			}
		}
	}

	_, err = surrealdb.Query[any](ctx, s.client.db, `
		DELETE job WHERE production_id = $production;
		DELETE parent_job WHERE production_id = $production;
	`, map[string]any{"production": productionID})
	if err != nil {
		return 0, fmt.Errorf("delete production jobs: %w", wrapQueryError(err))
	}
	return total, nil
}

// shortID truncates long entity ids so record ids stay readable.
func shortID(id string) string {
	if len(id) > 20 {
		return id[:20]
	}
	return id
}

var _ jobstore.Store = (*SurrealStore)(nil)
