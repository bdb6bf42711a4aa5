package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore persists each job as a JSON file: child jobs under jobs/, parent
// jobs under parents/. Writes are atomic (temp file + rename) and serialized
// by a process-wide mutex; suitable for single-process deployments and tests.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates the store directories if needed.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{filepath.Join(root, "jobs"), filepath.Join(root, "parents")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job store directory %s: %w", dir, err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) jobPath(jobID string) string {
	return filepath.Join(s.root, "jobs", jobID+".json")
}

func (s *FileStore) parentPath(jobID string) string {
	return filepath.Join(s.root, "parents", jobID+".json")
}

// writeJSON writes atomically so a concurrent reader never sees a torn file.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".job-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// CreateParentJob creates the umbrella record for a production run.
func (s *FileStore) CreateParentJob(ctx context.Context, productionID, title string, meta map[string]any) (*ParentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := &ParentJob{
		JobID:        fmt.Sprintf("run_%s_%s", shortID(productionID), uuid.New().String()[:5]),
		ProductionID: productionID,
		Title:        title,
		Status:       StatusPending,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	}
	if err := writeJSON(s.parentPath(parent.JobID), parent); err != nil {
		return nil, err
	}
	return parent, nil
}

// GetParentJob returns the parent job or nil if absent.
func (s *FileStore) GetParentJob(ctx context.Context, jobID string) (*ParentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getParentLocked(jobID)
}

func (s *FileStore) getParentLocked(jobID string) (*ParentJob, error) {
	var parent ParentJob
	ok, err := readJSON(s.parentPath(jobID), &parent)
	if err != nil || !ok {
		return nil, err
	}
	return &parent, nil
}

// SetParentChildren records the run's child job ids on the parent.
func (s *FileStore) SetParentChildren(ctx context.Context, jobID string, childJobIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.getParentLocked(jobID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("parent job not found: %s", jobID)
	}
	parent.ChildJobIDs = childJobIDs
	parent.Counts = Counts{Total: len(childJobIDs), Pending: len(childJobIDs)}
	return writeJSON(s.parentPath(jobID), parent)
}

// SetParentSummary records the uploaded run summary's public URL.
func (s *FileStore) SetParentSummary(ctx context.Context, jobID, summaryURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.getParentLocked(jobID)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("parent job not found: %s", jobID)
	}
	parent.SummaryURL = summaryURL
	return writeJSON(s.parentPath(jobID), parent)
}

// RecomputeParentStats reloads every child, recounts statuses and derives the
// parent status. Full re-read, no incremental counters, so concurrent calls
// converge on the true state.
func (s *FileStore) RecomputeParentStats(ctx context.Context, jobID string) (*ParentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, err := s.getParentLocked(jobID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent job not found: %s", jobID)
	}

	children := make([]*JobRecord, 0, len(parent.ChildJobIDs))
	for _, childID := range parent.ChildJobIDs {
		child, err := s.getJobLocked(childID)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}

	ParentPatchFromChildren(parent, children, time.Now().UTC())
	if err := writeJSON(s.parentPath(jobID), parent); err != nil {
		return nil, err
	}
	return parent, nil
}

// GetOrCreateJob looks up the job for (production, entity); if none exists,
// proto is persisted as a new pending record with a generated job id.
func (s *FileStore) GetOrCreateJob(ctx context.Context, proto JobRecord) (*JobRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.listJobsLocked(Filter{ProductionID: proto.ProductionID})
	if err != nil {
		return nil, false, err
	}
	for _, rec := range existing {
		if rec.EntityID == proto.EntityID {
			return rec, false, nil
		}
	}

	rec := proto
	rec.JobID = fmt.Sprintf("job_%s_%s", shortID(proto.EntityID), uuid.New().String()[:5])
	rec.Status = StatusPending
	rec.CreatedAt = time.Now().UTC()
	if err := writeJSON(s.jobPath(rec.JobID), &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// GetJob returns the job record or nil if absent.
func (s *FileStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getJobLocked(jobID)
}

func (s *FileStore) getJobLocked(jobID string) (*JobRecord, error) {
	var rec JobRecord
	ok, err := readJSON(s.jobPath(jobID), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// UpdateJob applies a partial update. A completed job is immutable: late
// updates from an abandoned run are dropped with a warning rather than
// reverting a terminal result.
func (s *FileStore) UpdateJob(ctx context.Context, jobID string, patch Patch) (*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.getJobLocked(jobID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if rec.Status == StatusCompleted && patch.Status != nil && *patch.Status != StatusCompleted {
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

	if err := writeJSON(s.jobPath(jobID), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListJobs returns matching jobs, newest first.
func (s *FileStore) ListJobs(ctx context.Context, filter Filter) ([]*JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listJobsLocked(filter)
}

func (s *FileStore) listJobsLocked(filter Filter) ([]*JobRecord, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "jobs"))
	if err != nil {
		return nil, fmt.Errorf("scan job store: %w", err)
	}

	var jobs []*JobRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec JobRecord
		ok, err := readJSON(filepath.Join(s.root, "jobs", entry.Name()), &rec)
		if err != nil || !ok {
			// A file mid-rename or half-deleted is skipped, not fatal.
			continue
		}
		if filter.ProductionID != "" && rec.ProductionID != filter.ProductionID {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		jobs = append(jobs, &rec)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// DeleteProductionJobs removes all job records and parent jobs for a production.
func (s *FileStore) DeleteProductionJobs(ctx context.Context, productionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	jobs, err := s.listJobsLocked(Filter{ProductionID: productionID})
	if err != nil {
		return 0, err
	}
	for _, rec := range jobs {
		if err := os.Remove(s.jobPath(rec.JobID)); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("delete job %s: %w", rec.JobID, err)
		}
		deleted++
	}

	entries, err := os.ReadDir(filepath.Join(s.root, "parents"))
	if err != nil {
		return deleted, fmt.Errorf("scan parent jobs: %w", err)
	}
	for _, entry := range entries {
		var parent ParentJob
		path := filepath.Join(s.root, "parents", entry.Name())
		ok, err := readJSON(path, &parent)
		if err != nil || !ok {
			continue
		}
		if parent.ProductionID != productionID {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("delete parent job %s: %w", parent.JobID, err)
		}
		deleted++
	}
	return deleted, nil
}

// shortID truncates long entity ids so job file names stay readable.
func shortID(id string) string {
	if len(id) > 20 {
		return id[:20]
	}
	return id
}

var _ Store = (*FileStore)(nil)
